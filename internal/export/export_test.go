package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/MimeLyc/livesub/internal/session"
)

func sampleLines() []session.Line {
	return []session.Line{
		{Recognized: "hello", Translated: "नमस्ते"},
		{Recognized: "Signal <one> & two", Translated: "Signal <एक> & दो "},
	}
}

func TestBuild(t *testing.T) {
	doc := Build(sampleLines())
	assert.Equal(t, DefaultTitle, doc.Title)
	assert.Equal(t, []string{"नमस्ते", "Signal <एक> & दो"}, doc.Paragraphs)

	closed := Build(sampleLines(), WithClosing(), WithTitle("Lecture"))
	assert.Equal(t, "Lecture", closed.Title)
	assert.Equal(t, ClosingParagraph, closed.Paragraphs[len(closed.Paragraphs)-1])

	empty := Build(nil)
	assert.Empty(t, empty.Paragraphs)
}

func TestMarkdown_Render(t *testing.T) {
	data, err := Markdown{}.Render(Build(sampleLines(), WithClosing()))
	require.NoError(t, err)
	assert.Equal(t, "# Real-time Translated Subtitles\n\nनमस्ते\n\nSignal <एक> & दो\n\nSession ended.\n\n", string(data))
}

func readZipPart(t *testing.T, data []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(body)
	}
	t.Fatalf("part %s not found", name)
	return ""
}

func TestDOCX_Render(t *testing.T) {
	doc := Build(sampleLines())
	data, err := DOCX{}.Render(doc)
	require.NoError(t, err)

	body := readZipPart(t, data, "word/document.xml")
	assert.Contains(t, body, `<w:pStyle w:val="Title"/>`)
	assert.Contains(t, body, "Real-time Translated Subtitles")
	assert.Contains(t, body, "नमस्ते")
	assert.Contains(t, body, "Signal &lt;एक&gt; &amp; दो")
	assert.Less(t, strings.Index(body, "नमस्ते"), strings.Index(body, "Signal &lt;"))
	assert.Contains(t, readZipPart(t, data, "[Content_Types].xml"), "wordprocessingml.document.main+xml")

	again, err := DOCX{}.Render(doc)
	require.NoError(t, err)
	assert.Equal(t, data, again, "rendering is deterministic")
}

func TestExporter_WritesAndOverwrites(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(filepath.Join(dir, "translated_subtitles.docx"), Markdown{})
	assert.Equal(t, filepath.Join(dir, "translated_subtitles.md"), e.Path())

	_, err := e.Export(context.Background(), Build(sampleLines()[:1]))
	require.NoError(t, err)
	art, err := e.Export(context.Background(), Build(sampleLines(), WithClosing()))
	require.NoError(t, err)

	assert.Equal(t, "translated_subtitles.md", art.Name)
	assert.Equal(t, "text/markdown; charset=utf-8", art.ContentType)
	onDisk, err := os.ReadFile(e.Path())
	require.NoError(t, err)
	assert.Equal(t, art.Data, onDisk)
	assert.Contains(t, string(onDisk), ClosingParagraph)
}

func TestExporter_CancelledContext(t *testing.T) {
	e := NewExporter(filepath.Join(t.TempDir(), "doc.docx"), DOCX{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Export(ctx, Build(nil))
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeDialer struct {
	mu   sync.Mutex
	sent []*mail.Msg
	fail map[string]bool
}

func (d *fakeDialer) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range msgs {
		rcpts, err := m.GetRecipients()
		if err != nil {
			return err
		}
		for _, r := range rcpts {
			if d.fail[r] {
				return errors.New("550 mailbox unavailable")
			}
		}
		d.sent = append(d.sent, m)
	}
	return nil
}

type panickyDialer struct {
	fakeDialer
	boom string
}

func (d *panickyDialer) DialAndSendWithContext(ctx context.Context, msgs ...*mail.Msg) error {
	for _, m := range msgs {
		rcpts, _ := m.GetRecipients()
		for _, r := range rcpts {
			if r == d.boom {
				panic("smtp session corrupted")
			}
		}
	}
	return d.fakeDialer.DialAndSendWithContext(ctx, msgs...)
}

func TestMailNotifier_PanickingRecipientDoesNotStopOthers(t *testing.T) {
	dialer := &panickyDialer{boom: "down@example.com"}
	n := NewMailNotifier(MailSettings{Host: "smtp.example.com", Port: 587, From: "lectures@example.com"},
		WithDialer(func() (Dialer, error) { return dialer, nil }),
		WithConcurrency(1))

	art := Artifact{Name: "translated_subtitles.docx", ContentType: DOCX{}.ContentType(), Data: []byte("doc")}
	results := n.Notify(context.Background(), art, []string{"a@example.com", "down@example.com", "b@example.com"})

	require.Len(t, results, 3)
	assert.Equal(t, StatusSent, results[0].Status)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.Equal(t, "down@example.com", results[1].Recipient)
	assert.Contains(t, results[1].Reason, "smtp session corrupted")
	assert.False(t, results[1].At.IsZero())
	assert.Equal(t, StatusSent, results[2].Status)
	assert.Len(t, dialer.sent, 2)
}

func TestMailNotifier_PerRecipientResults(t *testing.T) {
	dialer := &fakeDialer{fail: map[string]bool{"down@example.com": true}}
	n := NewMailNotifier(MailSettings{Host: "smtp.example.com", Port: 587, From: "lectures@example.com"},
		WithDialer(func() (Dialer, error) { return dialer, nil }))

	art := Artifact{Name: "translated_subtitles.docx", ContentType: DOCX{}.ContentType(), Data: []byte("doc")}
	recipients := []string{"a@example.com", "down@example.com", "not an address", " b@example.com "}

	results := n.Notify(context.Background(), art, recipients)

	require.Len(t, results, 4)
	assert.Equal(t, StatusSent, results[0].Status)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.Contains(t, results[1].Reason, "550")
	assert.Equal(t, StatusFailed, results[2].Status)
	assert.Contains(t, results[2].Reason, "invalid recipient")
	assert.Equal(t, StatusSent, results[3].Status)
	assert.Equal(t, "b@example.com", results[3].Recipient)
	for _, r := range results {
		assert.False(t, r.At.IsZero())
	}

	require.Len(t, dialer.sent, 2)
	var buf bytes.Buffer
	_, err := dialer.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "Subject: "+MailSubject)
	assert.Contains(t, raw, MailBody)
	assert.Contains(t, raw, "translated_subtitles.docx")
}

func TestMailNotifier_DialerFactoryError(t *testing.T) {
	n := NewMailNotifier(MailSettings{Username: "me@example.com"},
		WithDialer(func() (Dialer, error) { return nil, errors.New("no route") }))

	results := n.Notify(context.Background(), Artifact{Name: "a.md"}, []string{"x@example.com"})

	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Equal(t, "no route", results[0].Reason)
}

func TestMailNotifier_NoRecipients(t *testing.T) {
	n := NewMailNotifier(MailSettings{From: "a@example.com"})
	assert.Empty(t, n.Notify(context.Background(), Artifact{}, nil))
}
