package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	orchestration "github.com/koscakluka/ema-demo/core"
	"gopkg.in/yaml.v3"
)

// Timings mirrors orchestration.Timings with file and environment keys.
// Durations are written as Go duration strings such as "1.5s".
type Timings struct {
	SilenceThreshold  time.Duration `mapstructure:"silence_threshold" yaml:"silence_threshold"`
	MinUtteranceWords int           `mapstructure:"min_utterance_words" yaml:"min_utterance_words"`

	LockTimeout    time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	WordsPerSecond float64       `mapstructure:"words_per_second" yaml:"words_per_second"`
	MinSpeechHold  time.Duration `mapstructure:"min_speech_hold" yaml:"min_speech_hold"`

	ElementAttachTimeout    time.Duration `mapstructure:"element_attach_timeout" yaml:"element_attach_timeout"`
	ElementVisibleTimeout   time.Duration `mapstructure:"element_visible_timeout" yaml:"element_visible_timeout"`
	ElementEnabledTimeout   time.Duration `mapstructure:"element_enabled_timeout" yaml:"element_enabled_timeout"`
	ClickTimeout            time.Duration `mapstructure:"click_timeout" yaml:"click_timeout"`
	FillTimeout             time.Duration `mapstructure:"fill_timeout" yaml:"fill_timeout"`
	NavigationTimeout       time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	BackTimeout             time.Duration `mapstructure:"back_timeout" yaml:"back_timeout"`
	ExpectNavigationTimeout time.Duration `mapstructure:"expect_navigation_timeout" yaml:"expect_navigation_timeout"`
	DefaultWait             time.Duration `mapstructure:"default_wait" yaml:"default_wait"`
	InterStepDelay          time.Duration `mapstructure:"inter_step_delay" yaml:"inter_step_delay"`

	CaptureTimeout           time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
	PlannerTimeout           time.Duration `mapstructure:"planner_timeout" yaml:"planner_timeout"`
	MaxCycles                int           `mapstructure:"max_cycles" yaml:"max_cycles"`
	PlannerRetryBudget       int           `mapstructure:"planner_retry_budget" yaml:"planner_retry_budget"`
	ActionFailureBudget      int           `mapstructure:"action_failure_budget" yaml:"action_failure_budget"`
	ObservationFailureBudget int           `mapstructure:"observation_failure_budget" yaml:"observation_failure_budget"`
	RetryBackoff             time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	IdleDelay                time.Duration `mapstructure:"idle_delay" yaml:"idle_delay"`
	ObservationInterval      time.Duration `mapstructure:"observation_interval" yaml:"observation_interval"`
	MemoryLimit              int           `mapstructure:"memory_limit" yaml:"memory_limit"`

	SettleDelay     time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	AnswerPause     time.Duration `mapstructure:"answer_pause" yaml:"answer_pause"`
	SoftStopGrace   time.Duration `mapstructure:"soft_stop_grace" yaml:"soft_stop_grace"`
	CancelWarnAfter time.Duration `mapstructure:"cancel_warn_after" yaml:"cancel_warn_after"`
}

func DefaultTimings() Timings {
	return FromOrchestration(orchestration.DefaultTimings())
}

// FromOrchestration and Orchestration copy by field name; both structs share
// field names and types.
func FromOrchestration(t orchestration.Timings) Timings {
	var out Timings
	if err := copier.Copy(&out, &t); err != nil {
		logger.Warn("Failed to copy orchestration timings", "error", err)
	}
	return out
}

func (t Timings) Orchestration() orchestration.Timings {
	var out orchestration.Timings
	if err := copier.Copy(&out, &t); err != nil {
		logger.Warn("Failed to copy config timings", "error", err)
		return orchestration.DefaultTimings()
	}
	return out
}

func (t Timings) OrchestratorOptions() []orchestration.OrchestratorOption {
	return []orchestration.OrchestratorOption{orchestration.WithTimings(t.Orchestration())}
}

// MarshalYAML keeps field order and writes durations as strings.
func (t Timings) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	value := reflect.ValueOf(t)
	for i := 0; i < value.NumField(); i++ {
		key := strings.Split(value.Type().Field(i).Tag.Get("yaml"), ",")[0]

		var fieldNode yaml.Node
		field := value.Field(i).Interface()
		if d, ok := field.(time.Duration); ok {
			field = d.String()
		}
		if err := fieldNode.Encode(field); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, &fieldNode)
	}
	return node, nil
}
