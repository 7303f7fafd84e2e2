package browsertest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/voiceorder/internal/browser/browsertest"
)

func TestPage_RootIsTheDocument(t *testing.T) {
	ctx := context.Background()
	b := browsertest.New()
	hidden := &browsertest.Node{Selectors: []string{"h1"}, Text: "later", Hidden: true}
	b.Route("https://example.test/", browsertest.El("body", "",
		browsertest.El("h1", "hello"),
		hidden,
	))

	session, err := b.Open(ctx)
	require.NoError(t, err)
	defer session.Close()
	page := session.Page()
	require.NoError(t, page.Navigate(ctx, "https://example.test/"))

	_, found, err := page.Find(ctx, "body")
	require.NoError(t, err)
	require.False(t, found, "root node answers no selector")

	headings, err := page.FindAll(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, headings, 1)
	text, err := headings[0].Text(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", text)

	b.Show(hidden)
	headings, err = page.FindAll(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, headings, 2)
}
