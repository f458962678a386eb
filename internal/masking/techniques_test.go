package masking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	m := NewMasker("pepper-a")
	first := m.Hash("123.456.789-00")
	second := m.Hash("123.456.789-00")
	require.Equal(t, first, second)
	require.NotEqual(t, first, m.Hash("987.654.321-00"))

	other := NewMasker("pepper-b")
	require.NotEqual(t, first, other.Hash("123.456.789-00"), "pepper must change the digest")
}

func TestPartialCPF(t *testing.T) {
	m := NewMasker("pepper")
	require.Equal(t, "XXX.XXX.XXX-00", m.Partial(FormatCPF, "123.456.789-00"))
	require.Equal(t, "XXX.XXX.XXX-42", m.Partial(FormatCPF, "111.222.333-42"))
}

func TestPartialPhone(t *testing.T) {
	m := NewMasker("pepper")
	require.Equal(t, "11***21", m.Partial(FormatPhone, "11987654321"))
	// Too short for a meaningful partial: never returned as-is.
	require.Equal(t, RedactedMarker, m.Partial(FormatPhone, "5551234"))
	require.Equal(t, RedactedMarker, m.Partial(FormatPhone, ""))
}

func TestPartialEmail(t *testing.T) {
	m := NewMasker("pepper")
	require.Equal(t, "ma***@clinic.example", m.Partial(FormatEmail, "maria.souza@clinic.example"))
	require.Equal(t, "n***l", m.Partial(FormatEmail, "not-an-email"))
}

func TestPartialGeneric(t *testing.T) {
	m := NewMasker("pepper")
	require.Equal(t, "R***3", m.Partial(FormatGeneric, "Rua das Flores, 123"))
	require.Equal(t, RedactedMarker, m.Partial(FormatGeneric, "ab"))
}
