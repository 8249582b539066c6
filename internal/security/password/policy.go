package password

import "unicode"

// Policy define los requisitos mínimos de un password nuevo.
type Policy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool

	// Blacklist opcional de passwords comunes. nil = sin chequeo.
	Blacklist *Blacklist
}

// DefaultPolicy es la política por defecto.
var DefaultPolicy = Policy{
	MinLength:     10,
	RequireUpper:  true,
	RequireLower:  true,
	RequireDigit:  true,
	RequireSymbol: true,
}

// Validate evalúa s contra la política. Retorna ok, las razones de rechazo y
// un score 0–5 (largo + cada clase de carácter presente, -todo si está en la
// blacklist).
func (p Policy) Validate(s string) (ok bool, reasons []string, score int) {
	runes := []rune(s)
	if len(runes) < p.MinLength {
		reasons = append(reasons, "too_short")
	} else {
		score++
	}

	var hasU, hasL, hasD, hasS bool
	for _, r := range runes {
		switch {
		case unicode.IsUpper(r):
			hasU = true
		case unicode.IsLower(r):
			hasL = true
		case unicode.IsDigit(r):
			hasD = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasS = true
		}
	}
	if hasU {
		score++
	}
	if hasL {
		score++
	}
	if hasD {
		score++
	}
	if hasS {
		score++
	}

	if p.RequireUpper && !hasU {
		reasons = append(reasons, "missing_upper")
	}
	if p.RequireLower && !hasL {
		reasons = append(reasons, "missing_lower")
	}
	if p.RequireDigit && !hasD {
		reasons = append(reasons, "missing_digit")
	}
	if p.RequireSymbol && !hasS {
		reasons = append(reasons, "missing_symbol")
	}

	if p.Blacklist.Contains(s) {
		reasons = append(reasons, "too_common")
		score = 0
	}

	return len(reasons) == 0, reasons, score
}
