// Package i18n holds the en/zh string tables for user-facing output.
package i18n

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

var (
	mu      sync.RWMutex
	current = en
)

// SetLocale selects the active locale ("en" or "zh").
func SetLocale(lang string) error {
	mu.Lock()
	defer mu.Unlock()
	switch lang {
	case "en":
		current = en
	case "zh":
		current = zh
	default:
		return fmt.Errorf("unsupported locale: %s", lang)
	}
	return nil
}

// DetectSystemLocale returns "zh" when the LANG/LANGUAGE environment
// points at a Chinese locale, "en" otherwise.
func DetectSystemLocale() string {
	lang := os.Getenv("LANG")
	if lang == "" {
		lang = os.Getenv("LANGUAGE")
	}
	if strings.HasPrefix(strings.ToLower(lang), "zh") {
		return "zh"
	}
	return "en"
}

// T looks up key in the active locale and formats it with args. Unknown
// keys fall back to English, then to the key itself.
func T(key string, args ...interface{}) string {
	mu.RLock()
	tmpl, ok := current[key]
	mu.RUnlock()
	if !ok {
		tmpl, ok = en[key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

var en = map[string]string{
	"loading_sources":        "Loading sources...",
	"source_loaded":          "  %s: %d nodes loaded, %d real (%d informational filtered)",
	"source_load_failed":     "Warning: failed to load source %s: %v",
	"total_nodes":            "  Total: %d nodes to test",
	"no_sources":             "No input sources provided.\nUsage: airport-bench [FILE_OR_URL ...]\n       airport-bench  (reads sources.yaml by default)",
	"sources_file_not_found": "Error: sources file not found: %s",
	"mihomo_not_found":       "Error: mihomo binary not found.\nInstall it with: brew install mihomo\nOr specify the path with: --mihomo /path/to/mihomo",

	"phase_latency":       "[%d/%d] Running latency tests (%d rounds each)...",
	"phase_speed":         "[%d/%d] Running speed tests...",
	"phase_geo":           "[%d/%d] Fetching geolocation...",
	"phase_geo_skip_dead": "  (%d dead nodes skipped)",

	"table_airport_title": "Airport Comparison",
	"col_airport":         "Airport",
	"col_alive":           "Alive",
	"col_median_lat":      "Median Lat",
	"col_p95_lat":         "P95 Lat",
	"col_jitter":          "Jitter",
	"col_speed_intl":      "Intl Speed",
	"col_speed_dom":       "CN Speed",

	"table_node_title": "Node Details",
	"col_node":         "Node",
	"col_src":          "Src",
	"col_type":         "Type",
	"col_loss":         "Loss",
	"col_region":       "Region",

	"dead": "DEAD",
	"na":   "N/A",

	"summary_tested_at": "Tested at: %s",
	"caveat":            "Note: Single-session results only. For peak-hour accuracy, run during 20:00-23:00 local time. QoS throttling may not be fully detected.",

	"exported": "Results exported to: %s",
}

var zh = map[string]string{
	"loading_sources":        "正在加载订阅源...",
	"source_loaded":          "  %s: 共 %d 个节点，%d 个真实节点（过滤 %d 个信息性节点）",
	"source_load_failed":     "警告：订阅源 %s 加载失败：%v",
	"total_nodes":            "  合计：%d 个节点待测试",
	"no_sources":             "未提供任何订阅源。\n用法：airport-bench [文件或URL ...]\n      airport-bench  （默认读取 sources.yaml）",
	"sources_file_not_found": "错误：找不到订阅配置文件：%s",
	"mihomo_not_found":       "错误：未找到 mihomo 二进制文件。\n请通过以下命令安装：brew install mihomo\n或使用 --mihomo /path/to/mihomo 指定路径",

	"phase_latency":       "[%d/%d] 正在测试延迟（每节点 %d 轮）...",
	"phase_speed":         "[%d/%d] 正在测试下载速度...",
	"phase_geo":           "[%d/%d] 正在查询地理位置...",
	"phase_geo_skip_dead": "  （%d 个不可用节点已跳过）",

	"table_airport_title": "机场综合对比",
	"col_airport":         "机场",
	"col_alive":           "可用率",
	"col_median_lat":      "延迟中位数",
	"col_p95_lat":         "P95 延迟",
	"col_jitter":          "抖动",
	"col_speed_intl":      "国际速度",
	"col_speed_dom":       "国内速度",

	"table_node_title": "节点详情",
	"col_node":         "节点",
	"col_src":          "来源",
	"col_type":         "类型",
	"col_loss":         "丢包",
	"col_region":       "地区",

	"dead": "不可用",
	"na":   "无数据",

	"summary_tested_at": "测试时间：%s",
	"caveat":            "注意：结果仅反映单次测试。如需高峰期数据，请在当地时间 20:00-23:00 运行。QoS 限速可能无法完全检出。",

	"exported": "结果已导出至：%s",
}
