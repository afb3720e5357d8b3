package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOptions struct {
	Name  string `mapstructure:"name"`
	Limit int    `mapstructure:"limit"`

	completed bool
	invalid   bool
}

func (o *testOptions) Flags() (fss NamedFlagSets) {
	fs := fss.FlagSet("test")
	fs.StringVar(&o.Name, "name", o.Name, "name")
	fs.IntVar(&o.Limit, "limit", o.Limit, "limit")
	return fss
}

func (o *testOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *testOptions) Validate() error {
	if o.invalid {
		return errors.New("invalid")
	}
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestNamedFlagSets_Order(t *testing.T) {
	var fss NamedFlagSets
	fss.FlagSet("b")
	fss.FlagSet("a")
	fss.FlagSet("b")
	assert.Equal(t, []string{"b", "a"}, fss.Order)
	assert.Len(t, fss.FlagSets, 2)
}

func TestApp_ConfigFileThenFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "kb.yaml", "name: ${KB_APP_TEST_NAME}\nlimit: 5\n")
	t.Setenv("KB_APP_TEST_NAME", "from-env")

	opts := &testOptions{Name: "default", Limit: 1}
	ran := false
	a := NewApp(
		WithName("kb-app-test"),
		WithNoVersion(),
		WithOptions(opts),
		WithRunFunc(func() error { ran = true; return nil }),
	)
	a.Command().SetArgs([]string{"--config", cfg, "--env-file", "", "--limit", "9"})
	require.NoError(t, a.Command().Execute())

	assert.True(t, ran)
	assert.True(t, opts.completed)
	assert.Equal(t, "from-env", opts.Name)
	assert.Equal(t, 9, opts.Limit)
}

func TestApp_ValidateFailureStopsRun(t *testing.T) {
	opts := &testOptions{invalid: true}
	ran := false
	a := NewApp(
		WithName("kb-app-test"),
		WithNoVersion(),
		WithNoConfig(),
		WithOptions(opts),
		WithRunFunc(func() error { ran = true; return nil }),
	)
	a.Command().SetArgs([]string{})
	assert.Error(t, a.Command().Execute())
	assert.False(t, ran)
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	p := writeFile(t, t.TempDir(), ".env", "KB_DOTENV_TEST=hello\n")
	t.Setenv("KB_DOTENV_TEST", "")
	require.NoError(t, os.Unsetenv("KB_DOTENV_TEST"))
	require.NoError(t, loadDotEnv(p))
	assert.Equal(t, "hello", os.Getenv("KB_DOTENV_TEST"))
}

func TestExpandEnvVars_KeepsUnknown(t *testing.T) {
	v := viper.New()
	v.Set("a", "$KB_NOPE_UNSET_VAR")
	v.Set("b", "x-${KB_EXPAND_TEST}-y")
	t.Setenv("KB_EXPAND_TEST", "mid")

	expandEnvVars(v)
	assert.Equal(t, "$KB_NOPE_UNSET_VAR", v.GetString("a"))
	assert.Equal(t, "x-mid-y", v.GetString("b"))
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "KB_SERVER", EnvPrefix("kb-server"))
}
