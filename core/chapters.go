package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/thedevsaddam/gojsonq/v2"
	"golang.org/x/net/html"
)

const (
	apiChapterPoints = "https://mooc1-api.chaoxing.com/job/myjobsnodesmap"
	apiChapterCards  = "https://mooc1-api.chaoxing.com/gas/knowledge"
)

// cardToken is a fixed app token the card endpoint expects alongside the
// request checksum.
const cardToken = "4faa8662c59590c6f43ae9fe5b002b42"

const cardFields = "id,parentnodeid,indexorder,label,layer,name,begintime,createtime,lastmodifytime,status,jobUnfinishedCount,clickcount,openlock,card.fields(id,knowledgeid,title,knowledgeTitile,description,cardorder).contentcard(all)"

// ChapterContainer holds one course's chapter tree and resolves chapters to
// their task points.
type ChapterContainer struct {
	session *Session

	CourseID int64
	ClassID  int64
	CPI      int64
	Name     string
	Chapters []ChapterModel
}

// Finished reports whether every task point of the chapter at index is done.
func (c *ChapterContainer) Finished(index int) bool {
	ch := c.Chapters[index]
	return ch.PointTotal > 0 && ch.PointTotal == ch.PointFinished
}

// RefreshPointStatus updates the per-chapter task point counters in place.
func (c *ChapterContainer) RefreshPointStatus(ctx context.Context) error {
	nodes := make([]string, 0, len(c.Chapters))
	for _, ch := range c.Chapters {
		nodes = append(nodes, fmt.Sprint(ch.ChapterID))
	}
	resp, err := c.session.PostForm(ctx, apiChapterPoints, url.Values{
		"view":     {"json"},
		"nodes":    {strings.Join(nodes, ",")},
		"clazzid":  {fmt.Sprint(c.ClassID)},
		"time":     {Timestamp()},
		"userid":   {fmt.Sprint(c.session.Acc.PUID)},
		"cpi":      {fmt.Sprint(c.CPI)},
		"courseid": {fmt.Sprint(c.CourseID)},
	})
	if err != nil {
		return err
	}
	var body map[string]struct {
		TotalCount  int `json:"totalcount"`
		FinishCount int `json:"finishcount"`
	}
	if err := resp.JSON(&body); err != nil {
		return err
	}
	for i := range c.Chapters {
		if counts, ok := body[fmt.Sprint(c.Chapters[i].ChapterID)]; ok {
			c.Chapters[i].PointTotal = counts.TotalCount
			c.Chapters[i].PointFinished = counts.FinishCount
		}
	}
	return nil
}

// FetchPoints resolves the chapter at index to its task point list by
// walking the chapter's content cards and the iframes embedded in them.
func (c *ChapterContainer) FetchPoints(ctx context.Context, index int) ([]TaskPoint, error) {
	chapter := c.Chapters[index]
	params := url.Values{
		"id":       {fmt.Sprint(chapter.ChapterID)},
		"courseid": {fmt.Sprint(c.CourseID)},
		"fields":   {cardFields},
		"view":     {"json"},
		"token":    {cardToken},
		"_time":    {Timestamp()},
	}
	resp, err := c.session.Get(ctx, apiChapterCards, InfEnc(params))
	if err != nil {
		return nil, err
	}
	cards, ok := gojsonq.New().FromString(resp.Text()).Find("data.[0].card.data").([]any)
	if !ok {
		return nil, &APIError{
			Op:     fmt.Sprintf("fetch cards [%s:%s]", chapter.Label, chapter.Name),
			Status: resp.StatusCode,
		}
	}

	var points []TaskPoint
	for cardIndex, raw := range cards {
		card := gojsonq.New().FromInterface(raw)
		// Pure text or image cards carry no iframe content.
		description := asString(card.Find("description"))
		if description == "" {
			continue
		}
		for _, p := range parseCardPoints(description) {
			point, err := c.buildPoint(chapter, cardIndex, p)
			if err != nil {
				log.Printf("skipping malformed task point in card %d: %v", cardIndex, err)
				continue
			}
			if point != nil {
				points = append(points, point)
			}
		}
	}
	log.Printf("chapter [%s:%s] resolved %d task points", chapter.Label, chapter.Name, len(points))
	return points, nil
}

type cardPoint struct {
	Module string
	Data   map[string]any
}

// parseCardPoints extracts the typed iframe descriptors from a card's inline
// HTML description.
func parseCardPoints(description string) []cardPoint {
	root, err := html.Parse(strings.NewReader(description))
	if err != nil {
		return nil
	}
	var out []cardPoint
	for _, frame := range findAll(root, byTag("iframe")) {
		module := attrVal(frame, "module")
		if module == "" {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(attrVal(frame, "data")), &data); err != nil {
			continue
		}
		out = append(out, cardPoint{Module: module, Data: data})
	}
	return out
}

func (c *ChapterContainer) buildPoint(chapter ChapterModel, cardIndex int, p cardPoint) (TaskPoint, error) {
	base := PointMeta{
		CardIndex:   cardIndex,
		CourseID:    c.CourseID,
		ClassID:     c.ClassID,
		KnowledgeID: chapter.ChapterID,
		CPI:         c.CPI,
	}
	switch p.Module {
	case "insertvideo":
		objectID, _ := p.Data["objectid"].(string)
		if objectID == "" {
			return nil, fmt.Errorf("video point without objectid")
		}
		return NewVideoPoint(c.session, base, objectID), nil
	case "work":
		workID := pointField(p.Data, "workid")
		jobID := pointField(p.Data, "_jobid")
		if workID == "" {
			return nil, fmt.Errorf("work point without workid")
		}
		return NewWorkPoint(c.session, base, workID, jobID, pointField(p.Data, "schoolid")), nil
	case "insertdoc":
		objectID, _ := p.Data["objectid"].(string)
		if objectID == "" {
			return nil, fmt.Errorf("document point without objectid")
		}
		return NewDocumentPoint(c.session, base, objectID), nil
	default:
		// Unknown module kinds are ignored rather than failing the chapter.
		return nil, nil
	}
}

// pointField reads a descriptor value that may arrive as string or number.
func pointField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
