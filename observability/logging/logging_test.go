package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "fundd", "test")
	logger.Info("fund created", "fund_id", 1, MaskField("jwt_secret", "hunter2"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "fund created", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "fundd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, RedactedValue, line["jwt_secret"])
	require.Contains(t, line, "timestamp")
}

func TestMaskValue(t *testing.T) {
	require.Equal(t, "", MaskValue("  "))
	require.Equal(t, RedactedValue, MaskValue("secret"))
	require.Equal(t, "fundd", MaskField("service", "fundd").Value.String())
	require.Equal(t, "1", MaskField("FUND_ID", "1").Value.String())
}

func TestMaskDSN(t *testing.T) {
	for _, tc := range []struct {
		name string
		dsn  string
		want string
	}{
		{"sqlite path", "./data/fundd/journal.sqlite", "./data/fundd/journal.sqlite"},
		{"url with password", "postgres://fundd:s3cret@db:5432/journal", "postgres://fundd:xxxxx@db:5432/journal"},
		{"url without password", "postgres://fundd@db/journal", "postgres://fundd@db/journal"},
		{"key value", "host=db user=fundd password=s3cret dbname=journal", "host=db user=fundd password=" + RedactedValue + " dbname=journal"},
		{"blank", "", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, MaskDSN(tc.dsn))
		})
	}
}
