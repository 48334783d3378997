//go:build !windows

package escalate

func platformSystem() System {
	return nil
}
