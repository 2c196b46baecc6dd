package core

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInfEnc(t *testing.T) {
	params := url.Values{"courseid": {"123"}, "classid": {"456"}}
	signed := InfEnc(params)

	enc := signed.Get("inf_enc")
	require.Len(t, enc, 32)
	require.Regexp(t, "^[0-9a-f]{32}$", enc)
	require.Equal(t, "123", signed.Get("courseid"))
	require.NotContains(t, params, "inf_enc")

	again := InfEnc(params)
	require.Equal(t, enc, again.Get("inf_enc"))

	params.Set("courseid", "124")
	require.NotEqual(t, enc, InfEnc(params).Get("inf_enc"))
}

func TestMD5Hex(t *testing.T) {
	require.Equal(t, "900150983cd24fb0d6963f7d28e17f72", MD5Hex("abc"))
}

func TestEncryptLoginField(t *testing.T) {
	out, err := EncryptLoginField("13800001111")
	require.NoError(t, err)

	// Key doubles as IV on this endpoint.
	raw, err := base64.StdEncoding.DecodeString(out)
	require.NoError(t, err)
	require.Zero(t, len(raw)%aes.BlockSize)

	block, err := aes.NewCipher([]byte(loginAESKey))
	require.NoError(t, err)
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, []byte(loginAESKey)).CryptBlocks(plain, raw)
	pad := int(plain[len(plain)-1])
	require.Equal(t, "13800001111", string(plain[:len(plain)-pad]))
}

func TestExamSignature(t *testing.T) {
	sig := NewExamSignature(12345, 678, 200, 300)

	require.Equal(t, "(200|300)", sig.Value)
	require.Len(t, sig.Pos, len(sig.Value)*2+8)
	_, err := hex.DecodeString(sig.Pos)
	require.NoError(t, err)

	require.Regexp(t, regexp.MustCompile(`^\d{16}$`), sig.Edt)
	require.GreaterOrEqual(t, sig.Rd, 0.0)
	require.Less(t, sig.Rd, 1.0)

	form := url.Values{}
	sig.Fill(form)
	require.Equal(t, sig.Pos, form.Get("pos"))
	require.Equal(t, strconv.FormatFloat(sig.Rd, 'f', -1, 64), form.Get("rd"))
	require.Equal(t, sig.Value, form.Get("value"))
	require.Equal(t, sig.Edt, form.Get("_edt"))
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "a b", CleanText("a b"))
	require.Equal(t, "ab", CleanText(" a b　"))
	require.Equal(t, "plain", CleanText("  plain  "))
}
