package version

import "fmt"

// Version/Commit 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("swcache %s (%s)", Version, Commit)
}

// UserAgent 用于预热请求，方便源站区分 worker 的抓取与浏览器流量。
func UserAgent() string {
	return "swcache/" + Version
}
