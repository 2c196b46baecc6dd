package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
)

const pageMobileChapterCard = "https://mooc1-api.chaoxing.com/knowledge/cards"

// TaskPoint is one completable unit inside a chapter card: a video to watch,
// a document to read or a work paper to answer.
type TaskPoint interface {
	Kind() string
	JobID() string
	// PreFetch loads the card attachment metadata and reports whether the
	// point still needs completing.
	PreFetch(ctx context.Context) (bool, error)
}

// PointMeta carries the course coordinates every task point request needs.
type PointMeta struct {
	CardIndex   int
	CourseID    int64
	ClassID     int64
	KnowledgeID int64
	CPI         int64
}

var attachmentPattern = regexp.MustCompile(`window\.AttachmentSetting *= *(.+?);`)

type attachmentSetting struct {
	Defaults struct {
		FID    json.Number `json:"fid"`
		KToken string      `json:"ktoken"`
	} `json:"defaults"`
	Attachments []attachmentEntry `json:"attachments"`
}

type attachmentEntry struct {
	JobID     string          `json:"jobid"`
	Job       bool            `json:"job"`
	IsPassed  *bool           `json:"isPassed"`
	OtherInfo string          `json:"otherInfo"`
	Enc       string          `json:"enc"`
	JToken    string          `json:"jtoken"`
	Property  json.RawMessage `json:"property"`
}

type attachmentProperty struct {
	ObjectID string      `json:"objectid"`
	WorkID   string      `json:"workid"`
	Name     string      `json:"name"`
	RT       json.Number `json:"rt"`
}

func (e *attachmentEntry) property() attachmentProperty {
	var p attachmentProperty
	if e.Property != nil {
		json.Unmarshal(e.Property, &p)
	}
	return p
}

// fetchAttachment pulls the mobile card page for a chapter card and decodes
// the inline attachment descriptor.
func fetchAttachment(ctx context.Context, s *Session, meta PointMeta) (*attachmentSetting, error) {
	resp, err := s.Get(ctx, pageMobileChapterCard, url.Values{
		"clazzid":     {fmt.Sprint(meta.ClassID)},
		"courseid":    {fmt.Sprint(meta.CourseID)},
		"knowledgeid": {fmt.Sprint(meta.KnowledgeID)},
		"num":         {fmt.Sprint(meta.CardIndex)},
		"isPhone":     {"1"},
		"control":     {"true"},
		"cpi":         {fmt.Sprint(meta.CPI)},
	})
	if err != nil {
		return nil, err
	}
	m := attachmentPattern.FindStringSubmatch(resp.Text())
	if m == nil {
		return nil, &APIError{Op: "fetch attachment", Status: resp.StatusCode, Msg: "attachment setting missing"}
	}
	var setting attachmentSetting
	if err := json.Unmarshal([]byte(m[1]), &setting); err != nil {
		return nil, fmt.Errorf("decode attachment setting: %v", err)
	}
	return &setting, nil
}

// findByObjectID locates the attachment entry whose property carries the
// given objectid.
func (a *attachmentSetting) findByObjectID(objectID string) *attachmentEntry {
	for i := range a.Attachments {
		if a.Attachments[i].property().ObjectID == objectID {
			return &a.Attachments[i]
		}
	}
	return nil
}

func (a *attachmentSetting) findByWorkID(workID string) *attachmentEntry {
	for i := range a.Attachments {
		if a.Attachments[i].property().WorkID == workID {
			return &a.Attachments[i]
		}
	}
	return nil
}
