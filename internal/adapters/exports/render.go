package exports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"custodyledger/internal/core"
	"custodyledger/pkg/domain"
)

// report is the JSON document written for a custody export. History is
// keyed by status name and omits stages not yet reached.
type report struct {
	Product      domain.Product       `json:"product"`
	History      map[string]time.Time `json:"history"`
	Transactions []domain.Transaction `json:"transactions"`
}

var csvHeader = []string{"sequence", "product_id", "transaction_type", "performer", "timestamp"}

func render(format Format, rec core.CustodyRecord) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		b, err := json.MarshalIndent(newReport(rec), "", "  ")
		if err != nil {
			return nil, "", err
		}
		return b, "application/json", nil
	case FormatCSV:
		b, err := renderCSV(rec.Transactions)
		if err != nil {
			return nil, "", err
		}
		return b, "text/csv", nil
	default:
		return nil, "", fmt.Errorf("unsupported export format %q", format)
	}
}

func newReport(rec core.CustodyRecord) report {
	history := make(map[string]time.Time, len(rec.History))
	for i, at := range rec.History {
		if !at.IsZero() {
			history[domain.ProductStatus(i).String()] = at
		}
	}
	txs := rec.Transactions
	if txs == nil {
		txs = []domain.Transaction{}
	}
	return report{Product: rec.Product, History: history, Transactions: txs}
}

func renderCSV(txs []domain.Transaction) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for i, tx := range txs {
		row := []string{
			strconv.Itoa(i + 1),
			strconv.FormatUint(tx.ProductID, 10),
			tx.Type,
			tx.Performer.String(),
			tx.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
