package ulid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWithPrefix(t *testing.T) {
	for _, prefix := range []string{PrefixAccount, PrefixTarget, PrefixRun, "custom"} {
		id := GenerateWithPrefix(prefix)

		assert.Equal(t, prefix, id.Prefix())
		assert.Contains(t, id.String(), prefix+PrefixSeparator)
		assert.False(t, id.IsZero())
	}
}

func TestParse(t *testing.T) {
	raw := Generate()
	parsed, err := Parse(raw.String())
	require.NoError(t, err)
	assert.Equal(t, raw, parsed)

	prefixed := GenerateWithPrefix(PrefixAccount)
	parsed, err = Parse(prefixed.String())
	require.NoError(t, err)
	assert.Equal(t, prefixed, parsed)
	assert.Equal(t, PrefixAccount, parsed.Prefix())

	_, err = Parse("invalid-ulid")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate(Generate().String()))
	assert.True(t, Validate(AccountID()))

	assert.False(t, Validate("invalid"))
	assert.False(t, Validate("acc-invalid"))
	assert.False(t, Validate(""))
}

func TestHasPrefix(t *testing.T) {
	assert.True(t, HasPrefix(AccountID(), PrefixAccount))
	assert.False(t, HasPrefix(TargetID(), PrefixAccount))
	assert.False(t, HasPrefix("acc-nope", PrefixAccount))
}

func TestDatabaseSerialization(t *testing.T) {
	id := GenerateWithPrefix(PrefixTarget)
	value, err := id.Value()
	require.NoError(t, err)

	str, ok := value.(string)
	require.True(t, ok)

	var scanned ULID
	require.NoError(t, scanned.Scan(str))
	assert.Equal(t, id, scanned)

	var fromBytes ULID
	require.NoError(t, fromBytes.Scan([]byte(str)))
	assert.Equal(t, id, fromBytes)

	var fromNil ULID
	require.NoError(t, fromNil.Scan(nil))
	assert.True(t, fromNil.IsZero())

	var invalid ULID
	assert.Error(t, invalid.Scan(123))
}

func TestDomainIDGeneration(t *testing.T) {
	testCases := []struct {
		name       string
		idFunction func() string
		prefix     string
	}{
		{"AccountID", AccountID, PrefixAccount},
		{"TargetID", TargetID, PrefixTarget},
		{"RunID", RunID, PrefixRun},
		{"SyncID", SyncID, PrefixSync},
		{"SettingID", SettingID, PrefixSetting},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id := tc.idFunction()
			assert.True(t, HasPrefix(id, tc.prefix))
		})
	}
}

func TestTimeExtraction(t *testing.T) {
	timestamp := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
	id := NewWithTime(timestamp)

	assert.LessOrEqual(t, timestamp.Sub(id.Time()).Milliseconds(), int64(1))
}

func BenchmarkGenerateWithPrefix(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = GenerateWithPrefix(PrefixRun)
	}
}
