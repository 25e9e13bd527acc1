/*
Package resilience provides the circuit breaker that guards the host open
path.

When the host filesystem keeps failing (a vanished mount, an exhausted
handle table) the breaker opens and further host opens are rejected until
its timeout elapses. Guest-level outcomes such as "not found" are not
failures; callers classify them through Settings.IsSuccessful.

# Usage

	breaker := resilience.New("hostfs", resilience.Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	err := breaker.Execute(func() error {
		f, err = fs.OpenFile(name, flag, perm)
		return err
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
