package service

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"ap2-payments/internal/core/domain"
)

// BuildReceiptPDF renders a one-page PDF receipt for a transaction. The
// document is deliberately minimal: a real deployment would swap in a
// proper renderer behind the same function.
func BuildReceiptPDF(tx *domain.Transaction) []byte {
	lines := []string{
		"AP2 Payment Receipt",
		"",
		fmt.Sprintf("Transaction: %s", tx.ID),
		fmt.Sprintf("Status: %s", tx.Status),
		fmt.Sprintf("Amount: %d %s", tx.Amount.Value, tx.Amount.Currency),
		fmt.Sprintf("Merchant: %s", tx.MerchantID),
		fmt.Sprintf("Payer: %s", tx.PayerID),
		fmt.Sprintf("Network ref: %s", tx.NetworkTransactionID),
		fmt.Sprintf("Authorization: %s", tx.AuthorizationCode),
		fmt.Sprintf("Date: %s", tx.CreatedAt.UTC().Format(time.RFC3339)),
	}

	var content bytes.Buffer
	content.WriteString("BT\n/F1 12 Tf\n72 770 Td\n14 TL\n")
	for _, line := range lines {
		fmt.Fprintf(&content, "(%s) Tj\nT*\n", escapePDFText(line))
	}
	content.WriteString("ET\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xrefStart := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(objects)+1)
	out.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xrefStart)

	return out.Bytes()
}

func escapePDFText(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "(", "\\(", ")", "\\)")
	return r.Replace(s)
}
