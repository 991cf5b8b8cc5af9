package iso

import (
	"github.com/beevik/etree"
)

// Decode parses a single ISO 20022 XML document into p. On success p is
// fully populated with ValidSchema set; on error p is left in an
// unspecified state and must not be forwarded.
//
// Traversal, in order:
//
//	Document (or the outermost element)
//	  CstmrCdtTrfinitn | FIToFICdtTrf
//	    PmtInf | CdtTrfTxInf
//	      PmtId/UETR (preferred) | PmtId/EndToEndId
//	      Dbtr/Nm, Cdtr/Nm
//	      Amt/InstdAmt @Ccy
func Decode(data []byte, p *Payment) error {
	*p = Payment{}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return ErrMalformedXML
	}
	root := doc.Root()
	if root == nil {
		return ErrMalformedXML
	}

	msg := root.SelectElement("CstmrCdtTrfinitn")
	if msg == nil {
		msg = root.SelectElement("FIToFICdtTrf")
	}
	if msg == nil {
		return missing("CstmrCdtTrfinitn")
	}

	tx := msg.SelectElement("PmtInf")
	if tx == nil {
		tx = msg.SelectElement("CdtTrfTxInf")
	}
	if tx == nil {
		return missing("PmtInf")
	}

	pmtID := tx.SelectElement("PmtId")
	if pmtID == nil {
		return missing("PmtId")
	}
	ref := pmtID.SelectElement("UETR")
	if ref == nil {
		ref = pmtID.SelectElement("EndToEndId")
	}
	if ref == nil {
		return missing("UETR")
	}
	copyCString(p.UETR[:], ref.Text(), MaxUETRLen)

	dbtr := childText(tx, "Dbtr", "Nm")
	if dbtr == "" {
		return missing("Dbtr/Nm")
	}
	cdtr := childText(tx, "Cdtr", "Nm")
	if cdtr == "" {
		return missing("Cdtr/Nm")
	}
	copyCString(p.Debtor[:], dbtr, MaxNameLen)
	copyCString(p.Creditor[:], cdtr, MaxNameLen)

	amt := tx.SelectElement("Amt")
	if amt == nil {
		return missing("Amt")
	}
	instd := amt.SelectElement("InstdAmt")
	if instd == nil {
		return missing("InstdAmt")
	}

	ccy := instd.SelectAttrValue("Ccy", "")
	if !validCurrency(ccy) {
		return ErrBadCurrency
	}
	copy(p.Currency[:3], ccy)
	p.Currency[3] = 0

	micros, err := ParseAmountMicros(instd.Text())
	if err != nil {
		return err
	}
	p.AmountMicros = micros
	p.ValidSchema = true
	return nil
}

func childText(parent *etree.Element, outer, inner string) string {
	el := parent.SelectElement(outer)
	if el == nil {
		return ""
	}
	nm := el.SelectElement(inner)
	if nm == nil {
		return ""
	}
	return nm.Text()
}

func validCurrency(ccy string) bool {
	return ccy == "EUR" || ccy == "USD" || ccy == "GBP"
}

// copyCString copies up to max bytes of s into dst and NUL-terminates,
// truncating at the byte limit.
func copyCString(dst []byte, s string, max int) {
	n := copy(dst[:max], s)
	dst[n] = 0
}

// ParseAmountMicros converts a decimal string to micros using integer
// arithmetic only. Up to six fractional digits are honoured; excess digits
// are ignored; shorter fractions are right-padded with zeros. Zero and
// negative amounts are rejected.
func ParseAmountMicros(s string) (int64, error) {
	if s == "" {
		return 0, ErrNonPositiveAmount
	}

	i := 0
	sign := int64(1)
	if s[0] == '-' {
		sign = -1
		i++
	}

	var integrals int64
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		integrals = integrals*10 + int64(s[i]-'0')
		i++
	}

	var fractionals int64
	if i < len(s) && s[i] == '.' {
		i++
		digits := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			if digits < 6 {
				fractionals = fractionals*10 + int64(s[i]-'0')
				digits++
			}
			i++
		}
		for digits < 6 {
			fractionals *= 10
			digits++
		}
	}

	amount := sign * (integrals*MicrosPerMajor + fractionals)
	if amount <= 0 {
		return 0, ErrNonPositiveAmount
	}
	return amount, nil
}
