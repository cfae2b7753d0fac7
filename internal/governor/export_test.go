package governor

// Test-only accessors so the external governor_test package can reach
// identifiers that stay unexported in production builds.

var TrainingOrderLimit = trainingOrderLimit

func (s *Service) DB() *Database { return s.db }
