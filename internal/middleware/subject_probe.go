package middleware

import "context"

// subjectProbe は内側のミドルウェアで読み込んだセッションのsubjectを
// 外側のロギングミドルウェアへ渡す。
type subjectProbe struct {
	subject string
}

type subjectProbeContextKey struct{}

func withSubjectProbe(ctx context.Context, p *subjectProbe) context.Context {
	return context.WithValue(ctx, subjectProbeContextKey{}, p)
}

// recordSubject はロギングミドルウェアにsubjectを伝える。
func recordSubject(ctx context.Context, subject string) {
	if p, ok := ctx.Value(subjectProbeContextKey{}).(*subjectProbe); ok {
		p.subject = subject
	}
}
