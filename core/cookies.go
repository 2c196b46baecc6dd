package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SessionRecord is one saved credential set on disk, keyed by phone number.
type SessionRecord struct {
	Phone  string `json:"phone"`
	PUID   int64  `json:"puid"`
	Passwd string `json:"passwd,omitempty"`
	Name   string `json:"name"`
	CK     string `json:"ck"`
}

// SerializeCookies flattens a cookie map into the "k=v;" record form.
func SerializeCookies(ck map[string]string) string {
	var sb strings.Builder
	for _, k := range sortedKeys(ck) {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(ck[k])
		sb.WriteByte(';')
	}
	return sb.String()
}

// ParseCookies parses a "k=v;" record back into a cookie map. Fields without
// a value separator are skipped.
func ParseCookies(ck string) map[string]string {
	out := map[string]string{}
	for _, field := range strings.Split(strings.TrimSpace(ck), ";") {
		if field == "" {
			continue
		}
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SaveSession writes one record to dir as <phone>.json.
func SaveSession(dir string, ck map[string]string, acc AccountInfo, passwd string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session dir: %v", err)
	}
	rec := SessionRecord{
		Phone:  acc.Phone,
		PUID:   acc.PUID,
		Passwd: passwd,
		Name:   acc.Name,
		CK:     SerializeCookies(ck),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, acc.Phone+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("save session: %v", err)
	}
	return nil
}

// LoadSessions reads every saved record from dir. A missing dir is not an
// error, it just yields no sessions.
func LoadSessions(dir string) ([]SessionRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load sessions: %v", err)
	}
	var out []SessionRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("load sessions: %v", err)
		}
		var rec SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("load sessions: %s: %v", e.Name(), err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// MaskName hides the middle of a display name for logs.
func MaskName(name string) string {
	r := []rune(name)
	if len(r) <= 1 {
		return name
	}
	if len(r) == 2 {
		return string(r[0]) + "*"
	}
	return string(r[0]) + strings.Repeat("*", len(r)-2) + string(r[len(r)-1])
}

// MaskPhone hides the middle digits of a phone number for logs.
func MaskPhone(phone string) string {
	if len(phone) < 7 {
		return phone
	}
	return phone[:3] + "****" + phone[len(phone)-4:]
}
