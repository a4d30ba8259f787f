package extract

import (
	"strings"
	"testing"

	"github.com/ppiankov/factmark/internal/model"
)

func newExtractor(t *testing.T, cfg model.ExtractConfig) *ContentExtractor {
	t.Helper()
	e, err := NewContentExtractor(cfg, nil)
	if err != nil {
		t.Fatalf("NewContentExtractor: %v", err)
	}
	return e
}

func TestExtract_ArticleWins(t *testing.T) {
	e := newExtractor(t, model.ExtractConfig{})

	got, err := e.ExtractHTML(`<html><body>
		<nav>Menu Home About</nav>
		<main>Main text</main>
		<article><h1>Title</h1><p>Body of the story.</p><script>var x = 1;</script></article>
	</body></html>`, "")
	if err != nil {
		t.Fatalf("ExtractHTML: %v", err)
	}

	if got != "Title Body of the story." {
		t.Errorf("Expected article text, got %q", got)
	}
}

func TestExtract_AllMatchesOfFirstSelector(t *testing.T) {
	e := newExtractor(t, model.ExtractConfig{})

	got, _ := e.ExtractHTML(`<body><div class="content">First block.</div><p>skip</p><div class="content">Second block.</div></body>`, "")

	if got != "First block.\nSecond block." {
		t.Errorf("Expected both .content blocks, got %q", got)
	}
}

func TestExtract_SelectorPriority(t *testing.T) {
	e := newExtractor(t, model.ExtractConfig{})

	got, _ := e.ExtractHTML(`<body><div id="content">id content</div><div role="main">role main</div></body>`, "")

	if got != "role main" {
		t.Errorf(`Expected [role="main"] to outrank #content, got %q`, got)
	}
}

func TestExtract_BodyFallback(t *testing.T) {
	e := newExtractor(t, model.ExtractConfig{})

	got, _ := e.ExtractHTML(`<html><head><title>T</title><style>p{}</style></head><body>
		<div>Plain page.</div>
		<p>No landmarks here.</p>
	</body></html>`, "")

	if got != "Plain page. No landmarks here." {
		t.Errorf("Expected body text, got %q", got)
	}
}

func TestExtract_Empty(t *testing.T) {
	e := newExtractor(t, model.ExtractConfig{})

	for _, input := range []string{"", "   ", "<html><body>  \n </body></html>"} {
		got, err := e.ExtractHTML(input, "")
		if err != nil {
			t.Fatalf("ExtractHTML(%q): %v", input, err)
		}
		if got != "" {
			t.Errorf("Expected empty output for %q, got %q", input, got)
		}
	}

	if got := e.Extract(nil, ""); got != "" {
		t.Errorf("Expected empty output for nil document, got %q", got)
	}
}

func TestExtract_CustomSelectors(t *testing.T) {
	e := newExtractor(t, model.ExtractConfig{Selectors: []string{"div.story"}})

	got, _ := e.ExtractHTML(`<body><article>ignored</article><div class="story">Picked.</div></body>`, "")

	if got != "Picked." {
		t.Errorf("Expected custom selector to win, got %q", got)
	}
}

func TestExtract_MaxChars(t *testing.T) {
	e := newExtractor(t, model.ExtractConfig{MaxChars: 5})

	got, _ := e.ExtractHTML(`<article>héllo world</article>`, "")

	if got != "héllo" {
		t.Errorf("Expected rune-safe truncation, got %q", got)
	}
}

func TestNewContentExtractor_Errors(t *testing.T) {
	if _, err := NewContentExtractor(model.ExtractConfig{Selectors: []string{"[[["}}, nil); err == nil {
		t.Error("Expected error for invalid selector")
	}
	if _, err := NewContentExtractor(model.ExtractConfig{Strategy: "magic"}, nil); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}

func TestExtract_Readability(t *testing.T) {
	e := newExtractor(t, model.ExtractConfig{Strategy: StrategyReadability})

	paragraph := strings.Repeat("The river floods every spring and farmers plan their planting around it. ", 8)
	page := `<html><head><title>Floods</title></head><body>
		<div class="sidebar"><a href="/a">Link</a> <a href="/b">Other</a></div>
		<div class="story"><p>` + paragraph + `</p><p>` + paragraph + `</p></div>
		<footer>Copyright</footer>
	</body></html>`

	got, err := e.ExtractHTML(page, "https://example.org/floods")
	if err != nil {
		t.Fatalf("ExtractHTML: %v", err)
	}

	if !strings.Contains(got, "The river floods every spring") {
		t.Errorf("Expected story text, got %q", got)
	}
}
