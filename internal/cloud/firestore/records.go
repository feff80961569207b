package firestore

import (
	"github.com/shopspring/decimal"

	"snapspend/internal/core"
)

// Wire shapes of the shared documents. Field names are shared with other
// clients of the same project and must not change.
type (
	memberRecord struct {
		UserID string `firestore:"userId"`
		Name   string `firestore:"name"`
	}

	collectionRecord struct {
		Pin      string         `firestore:"pin"`
		Name     string         `firestore:"name"`
		Budget   float64        `firestore:"budget"`
		IconName string         `firestore:"iconName"`
		ColorHex string         `firestore:"colorHex"`
		Members  []memberRecord `firestore:"members"`
	}

	expenseRecord struct {
		ID               string   `firestore:"id"`
		Amount           float64  `firestore:"amount"`
		Timestamp        int64    `firestore:"timestamp"`
		AdderUserID      string   `firestore:"adderUserId"`
		AdderUserName    string   `firestore:"adderUserName"`
		Latitude         *float64 `firestore:"latitude"`
		Longitude        *float64 `firestore:"longitude"`
		LocationCategory *string  `firestore:"locationCategory"`
	}
)

func toMoney(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

func fromMoney(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func newMemberRecord(m core.Member) memberRecord {
	return memberRecord{UserID: m.UserID, Name: m.DisplayName}
}

func newCollectionRecord(doc core.SharedCollectionDoc) collectionRecord {
	members := make([]memberRecord, len(doc.Members))
	for i, m := range doc.Members {
		members[i] = newMemberRecord(m)
	}
	return collectionRecord{
		Pin:      doc.Pin,
		Name:     doc.Name,
		Budget:   fromMoney(doc.Budget),
		IconName: doc.IconName,
		ColorHex: doc.ColorHex,
		Members:  members,
	}
}

func (r collectionRecord) toDoc(pin string) core.SharedCollectionDoc {
	members := make([]core.Member, len(r.Members))
	for i, m := range r.Members {
		members[i] = core.Member{UserID: m.UserID, DisplayName: m.Name}
	}
	if r.Pin == "" {
		r.Pin = pin
	}
	return core.SharedCollectionDoc{
		Pin:      r.Pin,
		Name:     r.Name,
		Budget:   toMoney(r.Budget),
		IconName: r.IconName,
		ColorHex: r.ColorHex,
		Members:  members,
	}
}

func newExpenseRecord(doc core.SharedExpenseDoc) expenseRecord {
	return expenseRecord{
		ID:               doc.ID,
		Amount:           fromMoney(doc.Amount),
		Timestamp:        doc.Timestamp,
		AdderUserID:      doc.AdderUserID,
		AdderUserName:    doc.AdderUserName,
		Latitude:         doc.Latitude,
		Longitude:        doc.Longitude,
		LocationCategory: doc.LocationCategory,
	}
}

func (r expenseRecord) toDoc(refID string) core.SharedExpenseDoc {
	if r.ID == "" {
		r.ID = refID
	}
	return core.SharedExpenseDoc{
		ID:               r.ID,
		Amount:           toMoney(r.Amount),
		Timestamp:        r.Timestamp,
		AdderUserID:      r.AdderUserID,
		AdderUserName:    r.AdderUserName,
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		LocationCategory: r.LocationCategory,
	}
}

// decodeExpense decodes one expense document. A document that fails to
// decode still yields its id so the reconciler keeps the local row and
// skips the document as malformed.
func decodeExpense(refID string, dataTo func(any) error) (core.SharedExpenseDoc, error) {
	var rec expenseRecord
	if err := dataTo(&rec); err != nil {
		return core.SharedExpenseDoc{ID: refID}, err
	}
	return rec.toDoc(refID), nil
}
