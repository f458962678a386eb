package masking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Masker applies the non-vault techniques. The pepper keeps hashed values
// deterministic within a deployment while resisting offline dictionary
// attacks across deployments.
type Masker struct {
	pepper []byte
}

func NewMasker(pepper string) *Masker {
	return &Masker{pepper: []byte(pepper)}
}

// Hash returns a peppered HMAC-SHA256 digest of the value. Equal inputs map
// to equal digests, so hashed columns stay joinable.
func (m *Masker) Hash(value string) string {
	mac := hmac.New(sha256.New, m.pepper)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// Partial keeps the value's shape while hiding most of it.
func (m *Masker) Partial(format Format, value string) string {
	switch format {
	case FormatCPF:
		return partialCPF(value)
	case FormatPhone:
		return partialPhone(value)
	case FormatEmail:
		return partialEmail(value)
	default:
		return partialGeneric(value)
	}
}

// partialCPF masks the digit groups of a Brazilian CPF while keeping the
// punctuation and the check digits: "123.456.789-00" -> "XXX.XXX.XXX-00".
func partialCPF(value string) string {
	dash := strings.LastIndexByte(value, '-')
	if dash < 0 {
		return partialGeneric(value)
	}
	masked := []byte(value[:dash])
	for i, c := range masked {
		if c >= '0' && c <= '9' {
			masked[i] = 'X'
		}
	}
	return string(masked) + value[dash:]
}

// partialPhone keeps the first and last two digits: "11987654321" -> "11***21".
// Values too short for a meaningful partial are fully redacted rather than
// passed through.
func partialPhone(value string) string {
	if len(value) < 8 {
		return RedactedMarker
	}
	return fmt.Sprintf("%s***%s", value[:2], value[len(value)-2:])
}

// partialEmail keeps two characters of the local part and the full domain:
// "maria.silva@clinic.example" -> "ma***@clinic.example".
func partialEmail(value string) string {
	at := strings.IndexByte(value, '@')
	if at < 0 {
		return partialGeneric(value)
	}
	local := value[:at]
	if len(local) > 2 {
		local = local[:2]
	}
	return local + "***" + value[at:]
}

func partialGeneric(value string) string {
	if len(value) <= 2 {
		return RedactedMarker
	}
	return value[:1] + "***" + value[len(value)-1:]
}
