// Package migrate decides which saved controller settings may be carried
// forward when firmware or software changes version.
//
// Each key has its own validity window. A value saved under version A is
// restored into version B only when A >= rule.Min and B <= rule.Max.
// Everything else is returned as leftovers for manual review. Migration is
// never an error: unknown keys and failed windows simply stay behind.
//
// Usage:
//
//	res := migrate.Migrate(migrate.DefaultRules(), old, storedVersion, firmwareVersion)
//	payload, _ := json.Marshal(res.Restored) // keys in rule order
package migrate
