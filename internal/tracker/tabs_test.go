package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTabRegistry_ActivationIsPerWindow(t *testing.T) {
	r := NewTabRegistry()
	r.Upsert(TabInfo{ID: 1, WindowID: 10, URL: "https://a.com", Active: true})
	r.Upsert(TabInfo{ID: 2, WindowID: 20, URL: "https://b.com", Active: true})
	r.Upsert(TabInfo{ID: 3, WindowID: 10, URL: "https://c.com", Active: true})

	tab, err := r.ActiveTab(10)
	require.NoError(t, err)
	assert.Equal(t, 3, tab.ID)

	tab, err = r.ActiveTab(20)
	require.NoError(t, err)
	assert.Equal(t, 2, tab.ID)

	first, err := r.Get(1)
	require.NoError(t, err)
	assert.False(t, first.Active)
}

func TestTabRegistry_Lookups(t *testing.T) {
	r := NewTabRegistry()
	r.Upsert(TabInfo{ID: 1, WindowID: 10})

	_, err := r.TabURL(1)
	assert.ErrorIs(t, err, ErrTabNotFound, "tab without URL resolves to nothing")

	_, err = r.TabURL(99)
	assert.ErrorIs(t, err, ErrTabNotFound)

	_, err = r.ActiveTab(10)
	assert.ErrorIs(t, err, ErrTabNotFound)

	r.Remove(1)
	assert.Equal(t, 0, r.Len())
}
