//go:build !integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/consultator/internal/model"
	"github.com/sells-group/consultator/internal/store"
)

// execute runs the root command in a temp working directory backed by a
// fresh SQLite database and returns that database path.
func execute(t *testing.T, dbPath string, args ...string) error {
	t.Helper()
	t.Setenv("CONSULTATOR_STORE_DRIVER", "sqlite")
	t.Setenv("CONSULTATOR_STORE_DATABASE_URL", dbPath)
	t.Setenv("CONSULTATOR_LOG_LEVEL", "error")
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportVSA_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(origDir) //nolint:errcheck

	dbPath := filepath.Join(dir, "consultator.db")
	rosterPath := writeFile(t, dir, "consultants.csv",
		"id,first_name,last_name,practice\n1,Eric,Lapina,Data\n789,Anne,Martin,SAP\n")
	missionsPath := writeFile(t, dir, "missions.csv",
		"user_id,Code,Orderid,name,date_debut,date_fin,TJM,CJM,description\n"+
			"1,AFFAS263,CMD1,Banque,2023-02-01,,650,400,Phase 1\n"+
			"1,AFFAS263,CMD1,Banque,2023-06-01,,650,400,Phase 2\n"+
			"1,AFFAS263,CMD1,Banque,2023-10-01,,650,400,Phase 3\n"+
			"789,TEST123,CMD2,Assurance,2023-01-01,,700,,Original\n"+
			"789,TEST123,CMD2,Assurance,2023-01-01,,700,,Doublon exact\n"+
			"555,ORPHAN,CMD3,Client,2023-01-01,,,,\n"+
			",NOUSER,CMD4,Client,2023-01-01,,,,\n")

	require.NoError(t, execute(t, dbPath, "consultants", "import", "--csv", rosterPath))
	require.NoError(t, execute(t, dbPath, "import", "vsa", "--file", missionsPath, "--dry-run=false"))

	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	ctx := context.Background()

	missions, err := st.ListMissions(ctx, model.MissionFilter{})
	require.NoError(t, err)
	require.Len(t, missions, 4)

	runs, err := st.ListImportRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.ImportRunStatusComplete, runs[0].Status)
	assert.Equal(t, model.ImportCounts{
		Total: 7, Imported: 4, Errors: 1, Skipped: 2, Duplicates: 1, NotFound: 1,
	}, runs[0].Counts)
}

func TestImportVSA_DryRunLeavesStoreEmpty(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(origDir) //nolint:errcheck

	dbPath := filepath.Join(dir, "consultator.db")
	rosterPath := writeFile(t, dir, "consultants.csv", "id,first_name,last_name\n1,Eric,Lapina\n")
	missionsPath := writeFile(t, dir, "missions.csv",
		"user_id,Code,Orderid,name,date_debut\n1,DRY,CMD,Client,2024-01-01\n")

	require.NoError(t, execute(t, dbPath, "consultants", "import", "--csv", rosterPath))
	require.NoError(t, execute(t, dbPath, "import", "vsa", "--file", missionsPath, "--dry-run"))

	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	keys, err := st.ListMissionKeys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestImportVSA_MissingFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(origDir) //nolint:errcheck

	err := execute(t, filepath.Join(dir, "consultator.db"),
		"import", "vsa", "--file", filepath.Join(dir, "absent.xlsx"), "--dry-run=false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import vsa")
}
