package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"hookrelay/internal/record"
	logx "hookrelay/pkg/logx"
)

// Analysis is a structured read of a game automation report.
type Analysis struct {
	Source   string
	GameName string
	Event    string
	Level    string
	Content  string
}

// Analyzer is the optional AI collaborator for game reports. When it fails
// or is absent, rule-based normalization below takes over.
type Analyzer interface {
	Analyze(ctx context.Context, payload json.RawMessage) (Analysis, error)
}

// Game normalizes webhook reports from game automation tools (Alas, BAAS
// and similar).
type Game struct {
	analyzer Analyzer
	useAI    bool
	log      logx.Logger
	now      func() time.Time
}

func NewGame(analyzer Analyzer, useAI bool, log logx.Logger) *Game {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Game{analyzer: analyzer, useAI: useAI, log: log, now: time.Now}
}

func (g *Game) Name() string                  { return "game" }
func (g *Game) Priority() int                 { return 20 }
func (g *Game) Handles(kind record.Kind) bool { return kind == record.KindRawGame }

func (g *Game) Enrich(ctx context.Context, rec record.Record) (record.Renderable, error) {
	if len(rec.Payload) == 0 {
		return record.Renderable{}, ErrInvalidPayload
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return record.Renderable{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var (
		parsed     Analysis
		aiAnalyzed bool
	)
	if g.useAI && g.analyzer != nil {
		a, err := g.analyzer.Analyze(ctx, rec.Payload)
		if err != nil {
			g.log.Warn("game analyzer failed; using rules",
				logx.String("trace_id", rec.TraceID), logx.Err(err))
		} else if a.Event != "" || a.Content != "" {
			parsed = a
			aiAnalyzed = true
		}
	}
	if !aiAnalyzed {
		parsed = g.ruleParse(payload, rec.Headers)
	}

	lines := []string{
		parsed.GameName,
		"类型: " + parsed.Level,
		"事件: " + parsed.Event,
		"时间: " + g.now().Format("2006-01-02 15:04:05"),
	}
	if parsed.Content != "" {
		// Blank separator keeps the detail block out of the key/value rows.
		lines = append(lines, "", parsed.Content)
	}
	if aiAnalyzed {
		lines = append(lines, "备注: 由 AI 智能解析完成")
	}

	return record.Renderable{
		Text:       strings.Join(lines, "\n"),
		Template:   rec.Template,
		TraceID:    rec.TraceID,
		ReceivedAt: rec.ReceivedAt,
		Extra:      map[string]any{"source": parsed.Source},
	}, nil
}

// ruleParse is the deterministic fallback: source detection, placeholder
// cleaning, level mapping and Alas task-failure extraction.
func (g *Game) ruleParse(payload map[string]any, headers map[string]string) Analysis {
	source := DetectGameSource(payload, headers)
	isAlas := source == "alas"
	isBAAS := source == "baas"

	gameName := cleanPlaceholder(firstString(payload, "game_name", "game"))
	if gameName == "" {
		switch {
		case isAlas:
			gameName = "碧蓝航线 (Alas)"
		case isBAAS:
			gameName = "蔚蓝档案 (BAAS)"
		default:
			gameName = "未知游戏"
		}
	}

	event := cleanPlaceholder(firstString(payload, "title", "event", "action"))
	if event == "" {
		event = "通知"
	}
	detail := cleanPlaceholder(firstString(payload, "desp", "content", "message"))
	if detail == "" {
		b, _ := json.Marshal(payload)
		detail = string(b)
	}

	// Alas phrases task failures inside content; surface the task name.
	if isAlas {
		if content := asString(payload["content"]); content != "" {
			if task, ok := alasFailedTask(content); ok {
				event = "任务失败: " + task
			}
		}
	}

	level := strings.ToLower(asString(payload["level"]))
	if level == "" {
		level = "info"
	}
	levelMap := map[string]string{
		"error":    "严重",
		"critical": "崩溃",
		"warning":  "警告",
		"success":  "成功",
		"info":     "信息",
	}
	levelStr, ok := levelMap[level]
	if !ok {
		levelStr = "通知"
	}

	return Analysis{
		Source:   source,
		GameName: gameName,
		Event:    event,
		Level:    levelStr,
		Content:  detail,
	}
}

// DetectGameSource classifies a game report: explicit source field first,
// then body markers, then User-Agent heuristics.
func DetectGameSource(payload map[string]any, headers map[string]string) string {
	if sf := strings.ToLower(asString(payload["source"])); sf != "" {
		switch {
		case strings.Contains(sf, "alas"):
			return "alas"
		case strings.Contains(sf, "baas"):
			return "baas"
		}
		return sf
	}

	b, _ := json.Marshal(payload)
	body := strings.ToLower(string(b))
	switch {
	case strings.Contains(body, "baas"), strings.Contains(body, "bluearchive"), strings.Contains(body, "蔚蓝档案"):
		return "baas"
	case strings.Contains(body, "alas"), strings.Contains(body, "azurlane"), strings.Contains(body, "碧蓝航线"):
		return "alas"
	}

	if ua := strings.ToLower(headerGet(headers, "User-Agent")); ua != "" {
		switch {
		case strings.Contains(ua, "steam"):
			return "steam"
		case strings.Contains(ua, "discord"):
			return "discord"
		case strings.Contains(ua, "python-requests"):
			_, hasTitle := payload["title"]
			_, hasMessage := payload["message"]
			_, hasContent := payload["content"]
			if hasTitle && (hasMessage || hasContent) {
				title := strings.ToLower(asString(payload["title"]))
				switch {
				case strings.Contains(title, "baas"):
					return "baas"
				case strings.Contains(title, "alas"):
					return "alas"
				}
			}
		}
	}

	return "generic_game"
}

// cleanPlaceholder rejects values still holding unexpanded template markers
// like "{game_name}".
func cleanPlaceholder(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "{") && strings.Contains(s, "}") {
		return ""
	}
	return s
}

func alasFailedTask(content string) (string, bool) {
	const openMark, closeMark = "Task `", "` failed"
	i := strings.Index(content, openMark)
	if i < 0 {
		return "", false
	}
	rest := content[i+len(openMark):]
	j := strings.Index(rest, closeMark)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

func headerGet(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
