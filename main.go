package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"coursepilot/captcha"
	"coursepilot/config"
	"coursepilot/core"
	"coursepilot/resolver"
	"coursepilot/routes"
)

func main() {
	log.SetFlags(0)

	cfgPath := flag.String("config", "config.yml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	for _, dir := range []string{cfg.SessionDir, cfg.ExportDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create %s: %v", dir, err)
		}
	}

	routes.Init(runner(cfg))

	e := echo.New()
	e.Logger.SetOutput(io.Discard)
	e.Debug = false

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"*"},
		AllowHeaders:     []string{"*"},
		AllowCredentials: true,
	}))

	e.POST("/createTask", routes.CreateTaskRoute)
	e.POST("/getTask", routes.GetTaskRoute)

	fmt.Printf("Server is running on %s\n", cfg.Addr)
	if err := e.Start(cfg.Addr); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// runner builds the automation entrypoint the task routes dispatch to.
func runner(cfg *config.Config) routes.RunFunc {
	return func(ctx context.Context, req routes.Request) (*routes.Summary, error) {
		session, err := openSession(ctx, cfg, req)
		if err != nil {
			return nil, err
		}

		searcher, cache, closeSearchers, err := buildSearchers(cfg)
		if err != nil {
			return nil, err
		}
		defer closeSearchers()

		summary := &routes.Summary{}
		if req.ExamID != 0 {
			if err := runExam(ctx, cfg, session, searcher, cache, req, summary); err != nil {
				return nil, err
			}
			return summary, nil
		}

		classes, err := session.FetchClasses(ctx)
		if err != nil {
			return nil, err
		}
		for _, class := range classes {
			if req.CourseID != 0 && class.CourseID != req.CourseID {
				continue
			}
			summary.Courses++
			if err := runCourse(ctx, cfg, session, searcher, cache, class, summary); err != nil {
				// One broken course must not sink the rest of the run.
				log.Printf("course aborted [%s]: %v", class.Name, err)
			}
		}
		return summary, nil
	}
}

// openSession restores a saved session for the account or signs in fresh.
func openSession(ctx context.Context, cfg *config.Config, req routes.Request) (*core.Session, error) {
	session, err := core.NewSession(cfg.Proxy,
		core.WithCaptchaMaxRetry(cfg.Session.CaptchaMaxRetry),
		core.WithRequestMaxRetry(cfg.Session.RequestMaxRetry),
		core.WithRetryDelay(cfg.Session.RetryDelay()),
		core.WithFaceImages(faceLookup(cfg.FacesDir)),
	)
	if err != nil {
		return nil, err
	}

	passwd := req.Passwd
	records, err := core.LoadSessions(cfg.SessionDir)
	if err == nil {
		for _, rec := range records {
			if rec.Phone != req.Phone {
				continue
			}
			session.LoadCookies(core.ParseCookies(rec.CK))
			if err := session.FetchAccInfo(ctx); err == nil {
				log.Printf("session restored [%s]", core.MaskPhone(req.Phone))
				return session, nil
			}
			log.Printf("saved session expired [%s], signing in again", core.MaskPhone(req.Phone))
			if passwd == "" {
				passwd = rec.Passwd
			}
			break
		}
	}
	if passwd == "" {
		return nil, core.ErrLoginFailed
	}
	if err := session.LoginPassword(ctx, req.Phone, passwd); err != nil {
		return nil, err
	}
	if err := session.FetchAccInfo(ctx); err != nil {
		return nil, err
	}
	if err := core.SaveSession(cfg.SessionDir, session.DumpCookies(), session.Acc, passwd); err != nil {
		log.Printf("session save failed: %v", err)
	}
	return session, nil
}

// faceLookup maps an account to its stored face photo: <puid>.jpg when
// present, otherwise a random candidate from the directory.
func faceLookup(dir string) func(puid int64) (string, bool) {
	return func(puid int64) (string, bool) {
		exact := filepath.Join(dir, fmt.Sprintf("%d.jpg", puid))
		if _, err := os.Stat(exact); err == nil {
			return exact, true
		}
		candidates, _ := filepath.Glob(filepath.Join(dir, "*.jpg"))
		if len(candidates) == 0 {
			return "", false
		}
		return candidates[rand.Intn(len(candidates))], true
	}
}

// buildSearchers assembles the question-bank backends from configuration.
// The redis backend doubles as the engine's answer write-back cache.
func buildSearchers(cfg *config.Config) (*resolver.MultiSearcher, *resolver.RedisSearcher, func(), error) {
	multi := resolver.NewMultiSearcher()
	var cache *resolver.RedisSearcher
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Printf("searcher close failed: %v", err)
			}
		}
	}

	for _, sc := range cfg.Searcher {
		switch sc.Type {
		case "json":
			s, err := resolver.NewJSONFileSearcher(sc.Path)
			if err != nil {
				closeAll()
				return nil, nil, nil, err
			}
			multi.Add(s)
		case "sqlite":
			s, err := resolver.NewSQLiteSearcher(sc.Path, sc.Table, sc.ReqField, sc.RspField)
			if err != nil {
				closeAll()
				return nil, nil, nil, err
			}
			closers = append(closers, s.Close)
			multi.Add(s)
		case "restapi":
			s, err := resolver.NewRestAPISearcher(sc.URL, sc.Method, sc.QField, sc.OField, sc.AnswerPath, sc.Headers, sc.ExtParams)
			if err != nil {
				closeAll()
				return nil, nil, nil, err
			}
			multi.Add(s)
		case "redis":
			s := resolver.NewRedisSearcher(sc.Addr, sc.Password, sc.DB, sc.Prefix)
			closers = append(closers, s.Close)
			multi.Add(s)
			cache = s
		default:
			closeAll()
			return nil, nil, nil, fmt.Errorf("unknown searcher type %q", sc.Type)
		}
	}
	return multi, cache, closeAll, nil
}

// runCourse walks every unfinished chapter of one course and completes its
// task points in order.
func runCourse(ctx context.Context, cfg *config.Config, session *core.Session,
	searcher *resolver.MultiSearcher, cache *resolver.RedisSearcher,
	class core.ClassModule, summary *routes.Summary) error {

	chapters, err := session.FetchChapters(ctx, class)
	if err != nil {
		return err
	}
	if err := chapters.RefreshPointStatus(ctx); err != nil {
		return err
	}
	log.Printf("course [%s] %d chapters", class.Name, len(chapters.Chapters))

	for index := range chapters.Chapters {
		if chapters.Finished(index) {
			continue
		}
		points, err := chapters.FetchPoints(ctx, index)
		if err != nil {
			log.Printf("chapter %d unreadable, skipping: %v", index, err)
			continue
		}
		for _, point := range points {
			if err := runPoint(ctx, cfg, searcher, cache, point, summary); err != nil {
				if ctx.Err() != nil {
					return err
				}
				// Broken task points are logged and skipped, the rest of the
				// chapter still counts.
				log.Printf("task point %s/%s failed: %v", point.Kind(), point.JobID(), err)
				summary.Skipped++
			}
		}
	}
	return nil
}

// runPoint dispatches one task point by kind.
func runPoint(ctx context.Context, cfg *config.Config,
	searcher *resolver.MultiSearcher, cache *resolver.RedisSearcher,
	point core.TaskPoint, summary *routes.Summary) error {

	switch p := point.(type) {
	case *core.VideoPoint:
		if !cfg.Video.Enable {
			summary.Skipped++
			return nil
		}
		needs, err := p.PreFetch(ctx)
		if err != nil || !needs {
			return err
		}
		if err := p.Fetch(ctx); err != nil {
			return err
		}
		if err := watchVideo(ctx, p, cfg.Video.Speed, cfg.Video.ReportRate); err != nil {
			return err
		}
		summary.Videos++
		return pause(ctx, cfg.Video.WaitSec)

	case *core.DocumentPoint:
		if !cfg.Document.Enable {
			summary.Skipped++
			return nil
		}
		needs, err := p.PreFetch(ctx)
		if err != nil || !needs {
			return err
		}
		if err := p.Report(ctx); err != nil {
			return err
		}
		summary.Documents++
		return pause(ctx, cfg.Document.WaitSec)

	case *core.WorkPoint:
		if !cfg.Work.Enable {
			summary.Skipped++
			return nil
		}
		needs, err := p.PreFetch(ctx)
		if err != nil || !needs {
			return err
		}
		engine := resolver.NewEngine(searcher, p, paperOptions(cfg.Work, cfg.ExportDir, cache)...)
		if _, err := engine.Execute(ctx); err != nil {
			return err
		}
		summary.Works++
		return pause(ctx, cfg.Work.WaitSec)

	default:
		summary.Skipped++
		return nil
	}
}

// runExam drives one phone exam end to end: cover, start, resolution engine.
func runExam(ctx context.Context, cfg *config.Config, session *core.Session,
	searcher *resolver.MultiSearcher, cache *resolver.RedisSearcher,
	req routes.Request, summary *routes.Summary) error {

	if !cfg.Exam.Enable {
		return fmt.Errorf("exam mode disabled by configuration")
	}
	classes, err := session.FetchClasses(ctx)
	if err != nil {
		return err
	}
	var class *core.ClassModule
	for i := range classes {
		if classes[i].CourseID == req.CourseID {
			class = &classes[i]
			break
		}
	}
	if class == nil {
		return fmt.Errorf("course %d not found for exam %d", req.CourseID, req.ExamID)
	}

	exam := core.NewExam(session, req.ExamID, class.CourseID, class.ClassID, class.CPI, req.EncTask)
	if err := exam.FetchCover(ctx, captcha.Slide); err != nil {
		return err
	}
	if err := exam.Start(ctx, req.ExamCode); err != nil {
		return err
	}

	engine := resolver.NewEngine(searcher, exam, paperOptions(cfg.Exam, cfg.ExportDir, cache)...)
	if _, err := engine.Execute(ctx); err != nil {
		return err
	}
	summary.Exams++
	return nil
}

func paperOptions(pc config.PaperConfig, exportDir string, cache *resolver.RedisSearcher) []resolver.EngineOption {
	opts := []resolver.EngineOption{
		resolver.WithFallbackSave(pc.FallbackSave),
		resolver.WithFuzzer(pc.FallbackFuzzer),
		resolver.WithAutoFinalSubmit(pc.AutoFinalSubmit),
		resolver.WithSubmitDelay(pc.SubmitDelay()),
		resolver.WithSingleChoiceRatio(pc.SingleChoiceRatio),
		resolver.WithExportDir(exportDir),
	}
	if cache != nil {
		opts = append(opts, resolver.WithAnswerCache(cache))
	}
	return opts
}

// watchVideo replays the whole video at the given speed, sending a heartbeat
// every reportRate seconds of simulated playback until the platform passes
// it. The pacing sleeps throttle the request rate and must not be skipped.
func watchVideo(ctx context.Context, v *core.VideoPoint, speed float64, reportRate int) error {
	if speed <= 0 {
		speed = 1.0
	}
	if reportRate <= 0 {
		reportRate = 58
	}
	log.Printf("watching %s (x%.1f, report every %ds)", v, speed, reportRate)
	step := int(speed + 0.5)
	if step < 1 {
		step = 1
	}
	counter := reportRate
	playingTime := 0
	for {
		if counter >= reportRate || playingTime >= v.Duration {
			counter = 0
			passed, err := v.PlayReport(ctx, playingTime)
			if err != nil {
				return err
			}
			if passed {
				log.Printf("video passed %s", v.Title)
				return nil
			}
		}
		playingTime += step
		counter += step
		if err := pause(ctx, 1); err != nil {
			return err
		}
	}
}

func pause(ctx context.Context, seconds float64) error {
	if seconds <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
