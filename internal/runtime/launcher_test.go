package runtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCommandExecutor struct {
	mock.Mock
}

func (m *mockCommandExecutor) Execute(name string, args ...string) ([]byte, error) {
	callArgs := m.Called(name, args)
	return callArgs.Get(0).([]byte), callArgs.Error(1)
}

func TestLauncher_Command_Host(t *testing.T) {
	cmd := Launcher{Interpreter: "python3"}.Command()

	require.Len(t, cmd.Args, 4)
	assert.Equal(t, "python3", cmd.Args[0])
	assert.Equal(t, []string{"-u", "-c"}, cmd.Args[1:3])
	assert.Equal(t, kernelSource, cmd.Args[3])
}

func TestLauncher_Command_Container(t *testing.T) {
	cmd := Launcher{Interpreter: "python3", ContainerImage: "/images/lac.sif", Env: []string{"PIP_NO_CACHE_DIR=1"}}.Command()

	assert.Equal(t, "apptainer", cmd.Args[0])
	assert.Equal(t, []string{"exec", "--userns", "--containall", "--writable-tmpfs", "/images/lac.sif", "python3", "-u", "-c"}, cmd.Args[1:9])
	assert.Contains(t, cmd.Env, "PIP_NO_CACHE_DIR=1")
}

func TestLauncher_Version(t *testing.T) {
	executor := &mockCommandExecutor{}
	executor.On("Execute", "apptainer", []string{"exec", "--userns", "--containall", "--writable-tmpfs", "/images/lac.sif", "python3", "--version"}).
		Return([]byte("Python 3.11.9\n"), nil)

	version, err := Launcher{Interpreter: "python3", ContainerImage: "/images/lac.sif"}.Version(executor)
	require.NoError(t, err)
	assert.Equal(t, "Python 3.11.9", version)
	executor.AssertExpectations(t)
}

func TestLauncher_Version_Error(t *testing.T) {
	executor := &mockCommandExecutor{}
	executor.On("Execute", "python9", []string{"--version"}).Return([]byte(nil), errors.New("not found"))

	_, err := Launcher{Interpreter: "python9"}.Version(executor)
	assert.ErrorContains(t, err, "python9 --version")
}
