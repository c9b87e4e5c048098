package notify

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestDesktop_Notify(t *testing.T) {
	d := NewDesktop("", zerolog.Nop())

	var titles []string
	d.send = func(title, _ string) error {
		titles = append(titles, title)
		if title == "fail" {
			return errors.New("no notification daemon")
		}
		return nil
	}

	require.NoError(t, d.Notify("Break over", "Time to focus"))
	require.Error(t, d.Notify("fail", ""))
	require.Equal(t, []string{"Break over", "fail"}, titles)
}
