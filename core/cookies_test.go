package core

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerializeCookiesSorted(t *testing.T) {
	ck := map[string]string{"fid": "2", "UID": "1", "route": "3"}
	require.Equal(t, "UID=1;fid=2;route=3;", SerializeCookies(ck))
}

func TestParseCookies(t *testing.T) {
	ck := ParseCookies("UID=1;fid=2;;broken;route=3;")
	require.Equal(t, map[string]string{"UID": "1", "fid": "2", "route": "3"}, ck)
}

func TestCookiesRoundTrip(t *testing.T) {
	ck := map[string]string{"UID": "12345", "_d": "1700000000000"}
	require.Equal(t, ck, ParseCookies(SerializeCookies(ck)))
}

func TestSaveLoadSessions(t *testing.T) {
	dir := t.TempDir()
	acc := AccountInfo{PUID: 777, Name: "张三", Phone: "13800001111"}
	ck := map[string]string{"UID": "777"}
	require.NoError(t, SaveSession(dir, ck, acc, "secret"))

	recs, err := LoadSessions(dir)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "13800001111", recs[0].Phone)
	require.Equal(t, int64(777), recs[0].PUID)
	require.Equal(t, "secret", recs[0].Passwd)
	require.Equal(t, ck, ParseCookies(recs[0].CK))

	require.FileExists(t, filepath.Join(dir, "13800001111.json"))
}

func TestLoadSessionsMissingDir(t *testing.T) {
	recs, err := LoadSessions(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestMaskName(t *testing.T) {
	require.Equal(t, "张", MaskName("张"))
	require.Equal(t, "张*", MaskName("张三"))
	require.Equal(t, "张*丰", MaskName("张三丰"))
	require.Equal(t, "欧**锋", MaskName("欧阳大锋"))
}

func TestMaskPhone(t *testing.T) {
	require.Equal(t, "138****1111", MaskPhone("13800001111"))
	require.Equal(t, "123456", MaskPhone("123456"))
}
