package application

import (
	"strings"
	"unicode"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

type NameKind string

const (
	KindBody       NameKind = "Body"
	KindParam      NameKind = "Param"
	KindQuery      NameKind = "Query"
	KindPresenter  NameKind = "Presenter"
	KindService    NameKind = "Service"
	KindController NameKind = "Controller"
	KindGateway    NameKind = "Gateway"
)

// NameFor renders {RouteType}{DisplayName}{VSuffix}{Kind}, e.g.
// NameFor(GetOne, "user", "2", KindPresenter) == "GetOneUserV2Presenter".
func NameFor(routeType domain.RouteType, displayName, version string, kind NameKind) string {
	var b strings.Builder
	b.WriteString(string(routeType))
	b.WriteString(pascal(displayName))
	b.WriteString(versionSuffix(version))
	b.WriteString(string(kind))
	return b.String()
}

func versionSuffix(version string) string {
	v := normalizeVersion(version)
	if v == "" {
		return ""
	}
	return "V" + v
}

func normalizeVersion(version string) string {
	v := strings.TrimSpace(version)
	v = strings.TrimPrefix(v, "v")
	v = strings.TrimPrefix(v, "V")
	return v
}

// EventName renders kebab({routeType}/{subPath}/{displayName}).
func EventName(routeType domain.RouteType, subPath, displayName string) string {
	parts := []string{string(routeType)}
	if s := strings.Trim(subPath, "/"); s != "" {
		parts = append(parts, s)
	}
	parts = append(parts, displayName)
	return kebab(strings.Join(parts, "/"))
}

func pascal(s string) string {
	var b strings.Builder
	for _, w := range words(s) {
		r := []rune(w)
		b.WriteRune(unicode.ToUpper(r[0]))
		b.WriteString(string(r[1:]))
	}
	return b.String()
}

func kebab(s string) string {
	ws := words(s)
	for i, w := range ws {
		ws[i] = strings.ToLower(w)
	}
	return strings.Join(ws, "-")
}

// words splits on non-alphanumerics and on lower-to-upper case changes, so
// "GetOne/user-profiles/UserProfile" yields Get One user profiles User Profile.
func words(s string) []string {
	out := make([]string, 0, 4)
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	rs := []rune(s)
	for i, r := range rs {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(cur) > 0 && unicode.IsUpper(r) {
			prev := cur[len(cur)-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return out
}
