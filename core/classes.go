package core

import (
	"context"
	"fmt"
	"net/url"

	"github.com/thedevsaddam/gojsonq/v2"
)

const apiChapterList = "https://mooc1-api.chaoxing.com/gas/clazz"

// chapterListFields is the field projection the chapter endpoint expects.
// It is part of the request contract and must be sent verbatim.
const chapterListFields = "id,bbsid,classscore,isstart,allowdownload,chatid,name,state,isfiled,visiblescore,begindate,coursesetting.fields(id,courseid,hiddencoursecover,coursefacecheck),course.fields(id,name,infocontent,objectid,app,bulletformat,mappingcourseid,imageurl,teacherfactor,jobcount,knowledge.fields(id,name,indexOrder,parentnodeid,status,layer,label,jobcount,begintime,endtime,attachment.fields(id,type,objectid,extension).type(video)))"

// FetchClasses pulls the course list for the signed-in account.
func (s *Session) FetchClasses(ctx context.Context) ([]ClassModule, error) {
	resp, err := s.Get(ctx, apiClassList, nil)
	if err != nil {
		return nil, err
	}
	root := gojsonq.New().FromString(resp.Text())
	if result, _ := root.Copy().Find("result").(float64); result != 1 {
		return nil, &APIError{Op: "fetch classes", Status: resp.StatusCode}
	}
	channels, ok := root.Copy().Find("channelList").([]any)
	if !ok {
		return nil, &APIError{Op: "fetch classes", Status: resp.StatusCode, Msg: "channelList missing"}
	}

	var classes []ClassModule
	for _, raw := range channels {
		ch := gojsonq.New().FromInterface(raw)
		// Some rows carry no course payload at all, skip them.
		if ch.Copy().Find("content.course") == nil {
			continue
		}
		course := ch.Copy().Find("content.course.data.[0]")
		cm := ClassModule{
			CPI:         asInt64(ch.Copy().Find("cpi")),
			Key:         asInt64(ch.Copy().Find("key")),
			ClassID:     asInt64(ch.Copy().Find("content.id")),
			State:       int(asInt64(ch.Copy().Find("content.state"))),
			CourseID:    asInt64(gojsonq.New().FromInterface(course).Find("id")),
			Name:        asString(gojsonq.New().FromInterface(course).Find("name")),
			TeacherName: asString(gojsonq.New().FromInterface(course).Find("teacherfactor")),
		}
		classes = append(classes, cm)
	}
	return classes, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// FetchChapters pulls the chapter tree of one course.
func (s *Session) FetchChapters(ctx context.Context, class ClassModule) (*ChapterContainer, error) {
	resp, err := s.Get(ctx, apiChapterList, url.Values{
		"id":       {fmt.Sprint(class.Key)},
		"personid": {fmt.Sprint(class.CPI)},
		"fields":   {chapterListFields},
		"view":     {"json"},
	})
	if err != nil {
		return nil, err
	}
	root := gojsonq.New().FromString(resp.Text())
	rows, ok := root.Copy().Find("data.[0].course.data.[0].knowledge.data").([]any)
	if !ok {
		return nil, &APIError{Op: "fetch chapters", Status: resp.StatusCode, Msg: "knowledge data missing"}
	}

	container := &ChapterContainer{
		session:  s,
		CourseID: class.CourseID,
		ClassID:  class.ClassID,
		CPI:      class.CPI,
		Name:     class.Name,
	}
	for i, raw := range rows {
		row := gojsonq.New().FromInterface(raw)
		container.Chapters = append(container.Chapters, ChapterModel{
			ChapterID: asInt64(row.Copy().Find("id")),
			Jobs:      int(asInt64(row.Copy().Find("jobcount"))),
			Index:     i,
			Name:      CleanText(asString(row.Copy().Find("name"))),
			Label:     asString(row.Copy().Find("label")),
			Layer:     int(asInt64(row.Copy().Find("layer"))),
			Status:    asString(row.Copy().Find("status")),
		})
	}
	return container, nil
}
