package version

// 构建时通过 -ldflags 注入，例如：
//
//	go build -ldflags "-X deskify/internal/version.Version=v1.2.0"
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)
