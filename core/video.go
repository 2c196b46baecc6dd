package core

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
)

const (
	apiCardResource    = "https://mooc1-api.chaoxing.com/ananas/status"
	apiVideoPlayReport = "https://mooc1-api.chaoxing.com/multimedia/log/a"
)

const videoReportKey = "d_yHJ!$pdA~5"

// VideoPoint simulates watching one embedded video by replaying its
// heartbeat reports.
type VideoPoint struct {
	session *Session
	meta    PointMeta

	ObjectID string

	fid       string
	jobID     string
	otherInfo string
	rt        float64

	dtoken   string
	Duration int
	Title    string
}

func NewVideoPoint(session *Session, meta PointMeta, objectID string) *VideoPoint {
	return &VideoPoint{session: session, meta: meta, ObjectID: objectID}
}

func (v *VideoPoint) Kind() string { return "video" }
func (v *VideoPoint) JobID() string { return v.jobID }

func (v *VideoPoint) String() string {
	return fmt.Sprintf("Video(title=%s duration=%d objectid=%s jobid=%s)", v.Title, v.Duration, v.ObjectID, v.jobID)
}

// PreFetch locates the video inside the card attachment. Videos without a
// jobid are decoration, not task points.
func (v *VideoPoint) PreFetch(ctx context.Context) (bool, error) {
	setting, err := fetchAttachment(ctx, v.session, v.meta)
	if err != nil {
		return false, err
	}
	entry := setting.findByObjectID(v.ObjectID)
	if entry == nil {
		log.Printf("video %s not present in card attachment", v.ObjectID)
		return false, nil
	}
	if entry.JobID == "" {
		return false, nil
	}
	v.fid = setting.Defaults.FID.String()
	v.jobID = entry.JobID
	v.otherInfo = entry.OtherInfo
	v.rt = 0.9
	if rt, err := entry.property().RT.Float64(); err == nil && rt > 0 {
		v.rt = rt
	}
	return entry.IsPassed == nil || !*entry.IsPassed, nil
}

// Fetch resolves the media resource for its play token and duration.
func (v *VideoPoint) Fetch(ctx context.Context) error {
	resp, err := v.session.Get(ctx, apiCardResource+"/"+v.ObjectID, url.Values{
		"k":    {v.fid},
		"flag": {"normal"},
		"_dc":  {Timestamp()},
	})
	if err != nil {
		return err
	}
	var body struct {
		Status   string `json:"status"`
		DToken   string `json:"dtoken"`
		Duration int    `json:"duration"`
		Filename string `json:"filename"`
	}
	if err := resp.JSON(&body); err != nil {
		return err
	}
	if body.Status != "success" {
		return &APIError{Op: "fetch video", Status: resp.StatusCode, Msg: body.Status}
	}
	v.dtoken = body.DToken
	v.Duration = body.Duration
	v.Title = body.Filename
	return nil
}

// PlayReport sends one heartbeat at the given playback position and reports
// whether the platform marked the video passed.
func (v *VideoPoint) PlayReport(ctx context.Context, playingTime int) (bool, error) {
	clipTime := fmt.Sprintf("0_%d", v.Duration)
	enc := MD5Hex(fmt.Sprintf("[%d][%d][%s][%s][%d][%s][%d][%s]",
		v.meta.ClassID, v.session.Acc.PUID, v.jobID, v.ObjectID,
		playingTime*1000, videoReportKey, v.Duration*1000, clipTime))

	resp, err := v.session.Get(ctx,
		fmt.Sprintf("%s/%d/%s", apiVideoPlayReport, v.meta.CPI, v.dtoken),
		url.Values{
			"otherInfo":   {v.otherInfo},
			"playingTime": {strconv.Itoa(playingTime)},
			"duration":    {strconv.Itoa(v.Duration)},
			"jobid":       {v.jobID},
			"clipTime":    {clipTime},
			"clazzId":     {fmt.Sprint(v.meta.ClassID)},
			"objectId":    {v.ObjectID},
			"userid":      {fmt.Sprint(v.session.Acc.PUID)},
			"isdrag":      {"0"},
			"enc":         {enc},
			"rt":          {strconv.FormatFloat(v.rt, 'f', -1, 64)},
			"dtype":       {"Video"},
			"view":        {"pc"},
			"_t":          {Timestamp()},
		})
	if err != nil {
		return false, err
	}
	var body struct {
		Error    string `json:"error"`
		IsPassed bool   `json:"isPassed"`
	}
	if err := resp.JSON(&body); err != nil {
		return false, err
	}
	if body.Error != "" {
		return false, &APIError{Op: "play report", Status: resp.StatusCode, Msg: body.Error}
	}
	return body.IsPassed, nil
}
