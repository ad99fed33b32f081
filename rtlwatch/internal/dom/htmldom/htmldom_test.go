package htmldom

import (
	"strings"
	"testing"

	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"
)

const page = `<!DOCTYPE html><html><head><style>p{}</style></head><body>
<div class="markdown"><blockquote>quoted</blockquote><p>first</p></div>
<article class="prose lg"><ol><li>one</li></ol></article>
<div contenteditable="true">edit me</div>
<script>var x = "سلام";</script>
</body></html>`

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	d, err := ParseString(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func tags(els []dom.Element) []string {
	out := make([]string, len(els))
	for i, el := range els {
		out[i] = el.Tag()
	}
	return out
}

func TestQueryAll_Targets(t *testing.T) {
	d := mustParse(t, page)
	els, err := d.QueryAll(dom.Targets)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Join(tags(els), ",")
	want := "blockquote,p,ol,li,div"
	if got != want {
		t.Errorf("QueryAll: got %s, want %s", got, want)
	}
}

func TestElement_ClassAndAttr(t *testing.T) {
	d := mustParse(t, `<html><body><p class="a">x</p></body></html>`)
	p := d.QueryFirst(dom.Selectors{{Tag: "p"}})
	if p == nil {
		t.Fatal("paragraph not found")
	}

	if err := p.AddClass("b"); err != nil {
		t.Fatal(err)
	}
	p.AddClass("b")
	cls, _, _ := p.Attr("class")
	if cls != "a b" {
		t.Errorf("class after AddClass: got %q", cls)
	}
	p.RemoveClass("a")
	if ok, _ := p.HasClass("a"); ok {
		t.Error("class a still present")
	}
	if ok, _ := p.HasClass("b"); !ok {
		t.Error("class b missing")
	}

	p.SetAttr("dir", "rtl")
	if v, ok, _ := p.Attr("dir"); !ok || v != "rtl" {
		t.Errorf("dir: got %q %v", v, ok)
	}
}

func TestElement_TextSkipsScript(t *testing.T) {
	d := mustParse(t, `<html><body><p>hello <span>world</span><script>bad()</script></p></body></html>`)
	p := d.QueryFirst(dom.Selectors{{Tag: "p"}})
	text, _ := p.Text()
	if text != "hello world" {
		t.Errorf("Text: got %q", text)
	}
}

func TestElement_ConnectedAfterRemove(t *testing.T) {
	d := mustParse(t, `<html><body><p>x</p></body></html>`)
	p := d.QueryFirst(dom.Selectors{{Tag: "p"}})
	if ok, _ := p.Connected(); !ok {
		t.Fatal("expected connected")
	}
	d.Remove(p)
	if ok, _ := p.Connected(); ok {
		t.Error("expected detached")
	}
}

func TestElement_XPath(t *testing.T) {
	d := mustParse(t, `<html><body><p>a</p><p>b</p></body></html>`)
	els, _ := d.QueryAll(dom.Selectors{{Tag: "p"}})
	if len(els) != 2 {
		t.Fatalf("got %d paragraphs", len(els))
	}
	if got := els[1].(dom.Locator).XPath(); got != "/html/body/p[2]" {
		t.Errorf("XPath: got %s", got)
	}
	if got := d.Body().XPath(); got != "/html/body" {
		t.Errorf("body XPath: got %s", got)
	}
}

func TestElement_KeyStable(t *testing.T) {
	d := mustParse(t, `<html><body><p>x</p></body></html>`)
	a := d.QueryFirst(dom.Selectors{{Tag: "p"}})
	b := d.QueryFirst(dom.Selectors{{Tag: "p"}})
	if a.Key() != b.Key() {
		t.Error("two handles on the same node have different keys")
	}
	if a.Key() == d.Body().Key() {
		t.Error("different nodes share a key")
	}
}

func TestRootProperty(t *testing.T) {
	d := mustParse(t, `<html style="color: red"><body></body></html>`)
	d.SetRootProperty("--ai-rtl-font-size", "20px")
	d.SetRootProperty("--ai-rtl-font-size", "22px")
	d.SetRootProperty("--ai-rtl-line-height", "1.5")

	if v, ok := d.RootProperty("--ai-rtl-font-size"); !ok || v != "22px" {
		t.Errorf("font size: got %q %v", v, ok)
	}
	style, _, _ := d.Root().Attr("style")
	want := "color: red; --ai-rtl-font-size: 22px !important; --ai-rtl-line-height: 1.5 !important;"
	if style != want {
		t.Errorf("style:\n got %q\nwant %q", style, want)
	}
	if _, ok := d.RootProperty("--missing"); ok {
		t.Error("missing property reported present")
	}
}

func TestAppendHTML_ReportsInsertions(t *testing.T) {
	d := mustParse(t, `<html><body></body></html>`)
	var got []dom.Mutation
	d.Observe(func(m dom.Mutation) { got = append(got, m) })

	added, err := d.AppendHTML(d.Body(), `<p>سلام</p>text<div><li>x</li></div>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 2 {
		t.Fatalf("added elements: got %d, want 2", len(added))
	}
	if len(got) != 3 {
		t.Fatalf("mutations: got %d, want 3", len(got))
	}
	if got[0].Kind != dom.ChildInserted || got[0].Node == nil || got[0].Node.Tag() != "p" {
		t.Errorf("mutation 0: %+v", got[0])
	}
	if got[1].Node != nil {
		t.Errorf("text insertion should carry no element: %+v", got[1])
	}
}

func TestAppendText_ReportsCharacterData(t *testing.T) {
	d := mustParse(t, `<html><body><p>Hel</p></body></html>`)
	p := d.QueryFirst(dom.Selectors{{Tag: "p"}})
	var got []dom.Mutation
	d.Observe(func(m dom.Mutation) { got = append(got, m) })

	d.AppendText(p, "lo")
	if len(got) != 1 || got[0].Kind != dom.CharacterData {
		t.Fatalf("mutations: %+v", got)
	}
	if got[0].Parent.Key() != p.Key() {
		t.Error("character data parent is not the paragraph")
	}
	if text, _ := p.Text(); text != "Hello" {
		t.Errorf("Text: got %q", text)
	}
}
