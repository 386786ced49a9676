package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand()

	for _, name := range []string{"link", "sync", "dedupe", "reconcile", "batch", "export"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	batch, _, err := root.Find([]string{"batch"})
	require.NoError(t, err)
	for _, flag := range []string{"candidate", "cycle", "limit", "all", "include-unsynced", "variance", "queue"} {
		assert.NotNil(t, batch.Flags().Lookup(flag), flag)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("migrate"))
}

func TestReconcileRequiresCandidate(t *testing.T) {
	root := newRootCommand()
	cmd, _, err := root.Find([]string{"reconcile"})
	require.NoError(t, err)
	assert.Error(t, cmd.Args(cmd, nil))
	assert.NoError(t, cmd.Args(cmd, []string{"cand-1"}))
}
