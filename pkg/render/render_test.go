package render

import (
    "strings"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/protocol/codec"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/router"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

func TestTextRendersOutline(t *testing.T) {
    a := tree.NewView(tree.NewNode(1, "alpha"))
    b := tree.NewView(tree.NewNode(2, tree.NoCluster))
    c := tree.NewView(tree.NewNode(3, "gamma"))
    require.NoError(t, b.AddChild(c.Snapshot()))
    require.NoError(t, c.SetParent(b.Snapshot()))
    require.NoError(t, a.AddChild(b.Snapshot()))
    require.NoError(t, b.SetParent(a.Snapshot()))

    txt := NewText()
    txt.Update(b.Snapshot())
    var sb strings.Builder
    require.NoError(t, txt.Render(&sb))
    lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
    require.Len(t, lines, 3)
    assert.True(t, strings.HasPrefix(lines[0], "  #1 "), lines[0])
    assert.True(t, strings.HasSuffix(lines[0], "(alpha)"))
    assert.True(t, strings.HasPrefix(lines[1], "  * #2 "), lines[1])
    assert.True(t, strings.HasPrefix(lines[2], "      #3 "), lines[2])
}

func TestTextSelectionAndTooltip(t *testing.T) {
    a := tree.NewView(tree.NewNode(1, "alpha"))
    txt := NewText()
    txt.Update(a.Snapshot())
    txt.OnSelected(a.Self())
    txt.SetTooltip(a.Self().UniqueID, []string{"hello"})
    txt.OnTooltipOpened(a.Self())

    var sb strings.Builder
    require.NoError(t, txt.Render(&sb))
    assert.Equal(t, "> "+label(a.Self())+"\n    | hello\n", sb.String())
}

func TestTextEmpty(t *testing.T) {
    var sb strings.Builder
    require.NoError(t, NewText().Render(&sb))
    assert.Equal(t, "(empty)\n", sb.String())
}

func TestFollowTracksRouter(t *testing.T) {
    reg, err := codec.Default()
    require.NoError(t, err)
    pa := router.New(tree.NewView(tree.NewNode(1, "a")), reg)
    pb := router.New(tree.NewView(tree.NewNode(2, "b")), reg)
    txt := NewText()
    pa.Subscribe(Follow{R: txt})
    require.NoError(t, router.Join(pa, pb))

    var sb strings.Builder
    require.NoError(t, txt.Render(&sb))
    assert.Equal(t, 2, strings.Count(sb.String(), "#"))
}
