package utils

import (
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	log1 "github.com/charmbracelet/log"
)

// Log 全局结构化日志，未调用 Init 时也可直接使用
var Log = log1.NewWithOptions(os.Stderr, log1.Options{
	ReportTimestamp: true,
	TimeFormat:      time.DateTime,
})

// Init 设置日志级别与级别徽标样式
func Init(level string) {
	Log = log1.NewWithOptions(os.Stderr, log1.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           ParseLevel(level),
	})

	styles := log1.DefaultStyles()
	styles.Levels[log1.DebugLevel] = badge("DEBUG", "#44444480", "#BBBBBBFF")
	styles.Levels[log1.InfoLevel] = badge("INFO🌟", "#90EE9080", "#006400FF")
	styles.Levels[log1.WarnLevel] = badge("WARN⚠️", "#FFD70080", "#5C4400FF")
	styles.Levels[log1.ErrorLevel] = badge("ERROR🔥", "#FF0000FF", "#00FFFF00")
	styles.Levels[log1.FatalLevel] = badge("FATAL⚡️", "#000000FF", "#00FFFF00")
	Log.SetStyles(styles)
}

func badge(label, bg, fg string) lipgloss.Style {
	return lipgloss.NewStyle().
		SetString(label).
		Padding(0, 1, 0, 1).
		Background(lipgloss.Color(bg)).
		Foreground(lipgloss.Color(fg)).Bold(true)
}

// ParseLevel 未识别的级别按 info 处理
func ParseLevel(level string) log1.Level {
	l, err := log1.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return log1.InfoLevel
	}
	return l
}
