// Package config loads the runtime configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Addr       string `yaml:"addr" env:"COURSEPILOT_ADDR" env-default:":2323"`
	SessionDir string `yaml:"session_dir" env:"COURSEPILOT_SESSION_DIR" env-default:"sessions"`
	ExportDir  string `yaml:"export_dir" env:"COURSEPILOT_EXPORT_DIR" env-default:"exports"`
	FacesDir   string `yaml:"faces_dir" env:"COURSEPILOT_FACES_DIR" env-default:"faces"`
	Proxy      string `yaml:"proxy" env:"COURSEPILOT_PROXY"`

	Session  SessionConfig    `yaml:"session"`
	Video    VideoConfig      `yaml:"video"`
	Document DocumentConfig   `yaml:"document"`
	Work     PaperConfig      `yaml:"work"`
	Exam     PaperConfig      `yaml:"exam"`
	Searcher []SearcherConfig `yaml:"searchers"`
}

type SessionConfig struct {
	CaptchaMaxRetry int     `yaml:"captcha_max_retry" env-default:"6"`
	RequestMaxRetry int     `yaml:"request_max_retry" env-default:"5"`
	RetryDelaySec   float64 `yaml:"retry_delay_sec" env-default:"5"`
}

type VideoConfig struct {
	Enable     bool    `yaml:"enable" env-default:"true"`
	Speed      float64 `yaml:"speed" env-default:"1"`
	ReportRate int     `yaml:"report_rate" env-default:"58"`
	WaitSec    float64 `yaml:"wait_sec" env-default:"15"`
}

type DocumentConfig struct {
	Enable  bool    `yaml:"enable" env-default:"true"`
	WaitSec float64 `yaml:"wait_sec" env-default:"15"`
}

// PaperConfig covers both unit quizzes and exams.
type PaperConfig struct {
	Enable            bool    `yaml:"enable" env-default:"true"`
	FallbackSave      bool    `yaml:"fallback_save" env-default:"true"`
	FallbackFuzzer    bool    `yaml:"fallback_fuzzer" env-default:"false"`
	AutoFinalSubmit   bool    `yaml:"auto_final_submit" env-default:"true"`
	SubmitDelaySec    float64 `yaml:"submit_delay_sec" env-default:"1"`
	SingleChoiceRatio float64 `yaml:"single_choice_ratio" env-default:"0.95"`
	WaitSec           float64 `yaml:"wait_sec" env-default:"15"`
}

// SearcherConfig declares one question-bank backend. Type selects the
// implementation, the remaining fields apply per type.
type SearcherConfig struct {
	Type string `yaml:"type"` // json | sqlite | restapi | redis

	// json / sqlite
	Path     string `yaml:"path"`
	Table    string `yaml:"table"`
	ReqField string `yaml:"req_field"`
	RspField string `yaml:"rsp_field"`

	// restapi
	URL        string            `yaml:"url"`
	Method     string            `yaml:"method"`
	QField     string            `yaml:"q_field"`
	OField     string            `yaml:"o_field"`
	AnswerPath string            `yaml:"answer_path"`
	Headers    map[string]string `yaml:"headers"`
	ExtParams  map[string]string `yaml:"ext_params"`

	// redis
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

func (s SessionConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySec * float64(time.Second))
}

func (p PaperConfig) SubmitDelay() time.Duration {
	return time.Duration(p.SubmitDelaySec * float64(time.Second))
}

func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %v", path, err)
	}
	return &cfg, nil
}
