package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocalCaseInsensitive(t *testing.T) {
	p := Parser{CaseInsensitive: true}
	a := p.Parse(`C:\Project\src\App.ts`)
	b := p.Parse("c:/project/src/app.ts")
	require.True(t, a.IsLocal())
	assert.True(t, a.Equal(b))
	assert.Equal(t, `C:\Project\src\App.ts`, a.String())
	assert.Equal(t, "app.ts", a.Base())
	assert.Equal(t, "App.ts", a.TextualBase())
}

func TestParseLocalCaseSensitive(t *testing.T) {
	p := Parser{}
	assert.False(t, p.Parse("/src/App.ts").Equal(p.Parse("/src/app.ts")))
	assert.True(t, p.Parse("/src/./lib/../app.ts").Equal(p.Parse("/src/app.ts")))
}

func TestParseFileURL(t *testing.T) {
	p := Parser{}
	id := p.Parse("file:///home/me/app.js")
	require.True(t, id.IsLocal())
	assert.Equal(t, "/home/me/app.js", id.Canonical())

	win := Parser{CaseInsensitive: true}.Parse("file:///C:/Work/App.js")
	assert.Equal(t, "c:/work/app.js", win.Canonical())
}

func TestParseURL(t *testing.T) {
	p := Parser{CaseInsensitive: true}
	a := p.Parse("HTTP://LocalHost:8080/js/App.js")
	b := p.Parse("http://localhost:8080/js/App.js")
	assert.False(t, a.IsLocal())
	assert.True(t, a.Equal(b))
	// URL paths keep their case.
	assert.False(t, a.Equal(p.Parse("http://localhost:8080/js/app.js")))
	assert.Equal(t, "App.js", p.Parse("http://h/js/App.js?v=3").Base())
}

func TestEmpty(t *testing.T) {
	assert.True(t, Parse("").IsEmpty())
	assert.False(t, Parse("a.js").IsEmpty())
}

func TestResolve(t *testing.T) {
	p := Parser{}
	script := p.Parse("http://localhost:8080/js/app.js")
	assert.Equal(t, "http://localhost:8080/js/app.js.map", script.Resolve("app.js.map", p).Canonical())
	assert.Equal(t, "http://localhost:8080/maps/app.js.map", script.Resolve("../maps/app.js.map", p).Canonical())

	local := p.Parse("/home/me/out/app.js")
	assert.Equal(t, "/home/me/src/app.ts", local.Resolve("../src/app.ts", p).Canonical())
	assert.Equal(t, "/abs/app.ts", local.Resolve("/abs/app.ts", p).Canonical())
}

func TestSubstitutePathUnix(t *testing.T) {
	assert.Equal(t, "/my/asb/folder/relative/path", SubstitutePath("relative/path", Rules{{"", "/my/asb/folder/"}}, false))
	assert.Equal(t, "/already/abs/path", SubstitutePath("/already/abs/path", Rules{{"", "/my/asb/folder/"}}, false))
	assert.Equal(t, "relative/path", SubstitutePath("/my/asb/folder/relative/path", Rules{{"/my/asb/folder/", ""}}, false))
	assert.Equal(t, "/new/mapping/path", SubstitutePath("/original/path", Rules{{"/original", "/new/mapping"}}, false))
	assert.Equal(t, "/no/change/path", SubstitutePath("/no/change/path", Rules{{"/original", "/new/mapping"}}, false))
	assert.Equal(t, "/folder/should_not_be_replaced/path", SubstitutePath("/folder/should_not_be_replaced/path", Rules{{"should_not_be_replaced", ""}}, false))
}

func TestSubstitutePathWindows(t *testing.T) {
	assert.Equal(t, "c:\\new\\mapping\\path", SubstitutePath("D:\\original\\path", Rules{{"d:\\original", "c:\\new\\mapping"}}, true))
	assert.Equal(t, "D:\\original\\path", SubstitutePath("D:\\original\\path", Rules{{"d:\\original", "c:\\new\\mapping"}}, false))
}

func TestSubstituteURL(t *testing.T) {
	p := Parser{}
	rules := Rules{{From: "http://localhost:8080/", To: "/home/me/www"}}
	id := rules.Apply(p.Parse("http://localhost:8080/js/app.js"), p)
	require.True(t, id.IsLocal())
	assert.Equal(t, "/home/me/www/js/app.js", id.Canonical())

	untouched := p.Parse("http://cdn.example.com/lib.js")
	assert.Equal(t, untouched, rules.Apply(untouched, p))
}
