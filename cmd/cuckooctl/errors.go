package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/wyfcoding/cuckoo/xerrors"
	"google.golang.org/grpc/codes"
)

// 进程退出码。2 与 flag 包解析失败时的约定一致。
const (
	exitFailure     = 1
	exitUsage       = 2
	exitFull        = 3
	exitUnavailable = 4
	exitTimeout     = 5
)

// exitCodeFor 按错误的 gRPC 状态码归类退出码，便于脚本区分可重试与不可重试的失败。
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	e, ok := xerrors.FromError(err)
	if !ok {
		return exitFailure
	}
	switch e.GRPCCode() {
	case codes.InvalidArgument:
		return exitUsage
	case codes.ResourceExhausted:
		return exitFull
	case codes.Unavailable:
		return exitUnavailable
	case codes.DeadlineExceeded:
		return exitTimeout
	default:
		return exitFailure
	}
}

// reportError 输出一行错误描述并返回对应的退出码。
func reportError(w io.Writer, what string, err error) int {
	var e *xerrors.Error
	if errors.As(err, &e) {
		fmt.Fprintf(w, "%s: %s (code=%d grpc=%s http=%d)\n", what, e.Message, e.Code, e.GRPCCode(), e.HTTPStatus())
		if e.Detail != "" {
			fmt.Fprintf(w, "  detail: %s\n", e.Detail)
		}
		if e.Cause != nil {
			fmt.Fprintf(w, "  cause: %v\n", e.Cause)
		}
	} else {
		fmt.Fprintf(w, "%s: %v\n", what, err)
	}
	return exitCodeFor(err)
}
