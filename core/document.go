package core

import (
	"context"
	"fmt"
	"log"
	"net/url"
)

const apiDocumentReport = "https://mooc1.chaoxing.com/ananas/job/document"

// DocumentPoint completes a read-this-document task with a single report.
type DocumentPoint struct {
	session *Session
	meta    PointMeta

	ObjectID string
	Title    string

	jobID  string
	jtoken string
}

func NewDocumentPoint(session *Session, meta PointMeta, objectID string) *DocumentPoint {
	return &DocumentPoint{session: session, meta: meta, ObjectID: objectID}
}

func (d *DocumentPoint) Kind() string { return "document" }
func (d *DocumentPoint) JobID() string { return d.jobID }

func (d *DocumentPoint) String() string {
	return fmt.Sprintf("Document(title=%s objectid=%s jobid=%s)", d.Title, d.ObjectID, d.jobID)
}

// PreFetch locates the document inside the card attachment. Documents that
// are not jobs need no report.
func (d *DocumentPoint) PreFetch(ctx context.Context) (bool, error) {
	setting, err := fetchAttachment(ctx, d.session, d.meta)
	if err != nil {
		return false, err
	}
	entry := setting.findByObjectID(d.ObjectID)
	if entry == nil {
		log.Printf("document %s not present in card attachment", d.ObjectID)
		return false, nil
	}
	if !entry.Job {
		return false, nil
	}
	d.Title = entry.property().Name
	d.jobID = entry.JobID
	d.jtoken = entry.JToken
	return true, nil
}

// Report marks the document as read.
func (d *DocumentPoint) Report(ctx context.Context) error {
	resp, err := d.session.Get(ctx, apiDocumentReport, url.Values{
		"jobid":       {d.jobID},
		"knowledgeid": {fmt.Sprint(d.meta.KnowledgeID)},
		"courseid":    {fmt.Sprint(d.meta.CourseID)},
		"clazzid":     {fmt.Sprint(d.meta.ClassID)},
		"jtoken":      {d.jtoken},
		"_dc":         {Timestamp()},
	})
	if err != nil {
		return err
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := resp.JSON(&body); err != nil {
		return err
	}
	if body.Error != "" {
		return &APIError{Op: "document report", Status: resp.StatusCode, Msg: body.Error}
	}
	log.Printf("document reported %s", d.Title)
	return nil
}
