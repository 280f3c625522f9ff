package directory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/familylink/internal/platform/db"
)

func setupTestDirectory(t *testing.T, limit int) *PatientDirectorySQLite {
	t.Helper()
	sqlDB, err := db.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, EnsurePatientSchema(context.Background(), sqlDB))
	return NewPatientDirectorySQLite(sqlDB, limit)
}

const testFixture = `
patients:
  - first_name: Jane
    last_name: Doe
    phone: "555-0100"
    patient_code: P000001
  - first_name: John
    last_name: Doe
    phone: "555-0101"
    patient_code: P000002
  - first_name: Anna
    last_name: Smith
    phone: "555-0199"
    patient_code: P000003
  - first_name: Annette
    last_name: Brown
    phone: "555-0200"
`

func seedTestDirectory(t *testing.T, d *PatientDirectorySQLite) *Fixture {
	t.Helper()
	f, err := LoadFixture(strings.NewReader(testFixture))
	require.NoError(t, err)
	n, err := Seed(context.Background(), d, f)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	return f
}

func TestSQLiteDirectory_Search(t *testing.T) {
	d := setupTestDirectory(t, 0)
	seedTestDirectory(t, d)
	ctx := context.Background()

	t.Run("last name, newest first", func(t *testing.T) {
		refs, err := d.Search(ctx, "doe")
		require.NoError(t, err)
		require.Len(t, refs, 2)
		assert.Equal(t, "John Doe", refs[0].Name)
		assert.Equal(t, "Jane Doe", refs[1].Name)
	})

	t.Run("first name prefix is case-insensitive", func(t *testing.T) {
		refs, err := d.Search(ctx, "ANN")
		require.NoError(t, err)
		require.Len(t, refs, 2)
		assert.Equal(t, "Annette Brown", refs[0].Name)
		assert.Equal(t, "Anna Smith", refs[1].Name)
	})

	t.Run("full name", func(t *testing.T) {
		refs, err := d.Search(ctx, "Jane Doe")
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, "555-0100", refs[0].Phone)
		assert.Equal(t, "P000001", refs[0].PatientCode)
	})

	t.Run("phone and code", func(t *testing.T) {
		refs, err := d.Search(ctx, "-0199")
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, "Anna Smith", refs[0].Name)

		refs, err = d.Search(ctx, "p000002")
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, "John Doe", refs[0].Name)
	})

	t.Run("no match returns empty slice", func(t *testing.T) {
		refs, err := d.Search(ctx, "zzz")
		require.NoError(t, err)
		assert.NotNil(t, refs)
		assert.Empty(t, refs)
	})
}

func TestSQLiteDirectory_Limit(t *testing.T) {
	d := setupTestDirectory(t, 2)
	seedTestDirectory(t, d)

	refs, err := d.Search(context.Background(), "555")
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	refs, total, err := d.SearchPage(context.Background(), "555", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, refs, 2)
}

func TestSQLiteDirectory_PatientExists(t *testing.T) {
	d := setupTestDirectory(t, 0)
	f := seedTestDirectory(t, d)
	ctx := context.Background()

	id := f.Patients[0].ID
	require.NotEqual(t, uuid.Nil, id, "seeding assigns ids")

	ok, err := d.PatientExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, d.DeletePatient(ctx, id))
	ok, err = d.PatientExists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeed_GeneratesCodes(t *testing.T) {
	d := setupTestDirectory(t, 0)
	f := seedTestDirectory(t, d)
	generated := f.Patients[3].PatientCode
	assert.Regexp(t, `^P\d{6}$`, generated)
}

func TestLoadFixture_Errors(t *testing.T) {
	_, err := LoadFixture(strings.NewReader("patients:\n  - last_name: Nameless\n"))
	assert.Error(t, err)

	_, err = LoadFixture(strings.NewReader("patients:\n  - first_name: A\n    middle_name: B\n"))
	assert.Error(t, err, "unknown fields are rejected")
}

func TestNewPatientCode(t *testing.T) {
	ts := time.UnixMilli(1700000123456)
	assert.Equal(t, "P123456", NewPatientCode(ts))
}

func TestSQLiteDirectory_WildcardsMatchLiterally(t *testing.T) {
	d := setupTestDirectory(t, 0)
	seedTestDirectory(t, d)
	ctx := context.Background()

	for _, q := range []string{"_", "%", `\`} {
		refs, err := d.Search(ctx, q)
		require.NoError(t, err)
		assert.Empty(t, refs, "query %q", q)
	}

	require.NoError(t, d.AddPatient(ctx, &Patient{FirstName: "Ann_Marie", LastName: "Lee", PatientCode: "P000010"}))
	refs, err := d.Search(ctx, "n_m")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "Ann_Marie Lee", refs[0].Name)
}

func TestSQLiteDirectory_GeneratedCodeCollision(t *testing.T) {
	d := setupTestDirectory(t, 0)
	ctx := context.Background()
	createdAt := time.UnixMilli(1700000123456)

	first := &Patient{FirstName: "Jane", CreatedAt: createdAt}
	require.NoError(t, d.AddPatient(ctx, first))
	assert.Equal(t, "P123456", first.PatientCode)

	second := &Patient{FirstName: "John", CreatedAt: createdAt}
	require.NoError(t, d.AddPatient(ctx, second))
	assert.NotEqual(t, first.PatientCode, second.PatientCode)
	assert.Regexp(t, `^P\d{6}$`, second.PatientCode)

	explicit := &Patient{FirstName: "Anna", PatientCode: "P123456"}
	assert.Error(t, d.AddPatient(ctx, explicit), "a supplied code is never replaced")
}
