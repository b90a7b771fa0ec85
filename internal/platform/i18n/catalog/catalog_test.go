package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmbeddedHasExpectedLocales(t *testing.T) {
	bundle, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded catalogs: %v", err)
	}
	if !bundle.HasLocale(BaseLocale) {
		t.Fatalf("expected base locale %s", BaseLocale)
	}
	if !bundle.HasLocale("pt-BR") {
		t.Fatalf("expected locale pt-BR")
	}
	if got := len(bundle.NamespaceMessages("en-US", "inbox")); got == 0 {
		t.Fatalf("expected en-US inbox namespace messages")
	}
}

func TestEmbeddedLocalesDefineTheSameKeys(t *testing.T) {
	bundle, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded catalogs: %v", err)
	}
	for _, namespace := range []string{"core", "inbox"} {
		base := bundle.NamespaceMessages(BaseLocale, namespace)
		other := bundle.NamespaceMessages("pt-BR", namespace)
		for key := range base {
			if _, ok := other[key]; !ok {
				t.Fatalf("pt-BR is missing %s", key)
			}
		}
		if len(other) != len(base) {
			t.Fatalf("namespace %s: expected %d keys, got %d", namespace, len(base), len(other))
		}
	}
}

func TestLoadFromFSRejectsKeyOutsideNamespace(t *testing.T) {
	tempDir := t.TempDir()
	mustWriteFile(t, filepath.Join(tempDir, "locales/en-US/inbox.yaml"), `locale: "en-US"
namespace: "inbox"
messages:
  "core.bad": "nope"
`)

	if _, err := LoadFromFS(os.DirFS(tempDir)); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadFromFSRejectsLocaleMismatch(t *testing.T) {
	tempDir := t.TempDir()
	mustWriteFile(t, filepath.Join(tempDir, "locales/en-US/core.yaml"), `locale: "pt-BR"
namespace: "core"
messages:
  "core.a": "a"
`)

	if _, err := LoadFromFS(os.DirFS(tempDir)); err == nil {
		t.Fatal("expected locale mismatch error")
	}
}

func TestLoadFromFSRequiresBaseLocale(t *testing.T) {
	tempDir := t.TempDir()
	mustWriteFile(t, filepath.Join(tempDir, "locales/pt-BR/core.yaml"), `locale: "pt-BR"
namespace: "core"
messages:
  "core.a": "a"
`)

	if _, err := LoadFromFS(os.DirFS(tempDir)); err == nil {
		t.Fatal("expected missing base locale error")
	}
}

func TestMatchFallsBackToBase(t *testing.T) {
	bundle := Default()
	if got := bundle.Match("fr-FR").String(); got != BaseLocale {
		t.Fatalf("expected %s, got %s", BaseLocale, got)
	}
	if got := bundle.Match("pt").String(); got != "pt-BR" {
		t.Fatalf("expected pt-BR, got %s", got)
	}
}

func TestPrinterTranslates(t *testing.T) {
	bundle := Default()
	if got := bundle.Printer("pt-BR").Sprintf("core.expiry.days", 3); got != "em 3 dias" {
		t.Fatalf("expected em 3 dias, got %q", got)
	}
	if got := bundle.Printer("en-US").Sprintf("inbox.title", 2); got != "📬 INBOX NOTIFICATIONS (2)" {
		t.Fatalf("unexpected title %q", got)
	}
	if value, ok := bundle.Message("fr-FR", "core.rt.footer"); !ok || value == "" {
		t.Fatal("expected base fallback for unknown locale")
	}
}

func mustWriteFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
