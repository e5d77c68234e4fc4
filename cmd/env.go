package cmd

import "github.com/caarlos0/env/v11"

// Env holds settings read from the environment. They override the run file,
// so one file can serve every process of a multi-process run.
type Env struct {
	RedisAddr  string `env:"LOCKSTEP_REDIS_ADDR"`
	NamingAddr string `env:"LOCKSTEP_NAMING_ADDR"`
	RunID      string `env:"LOCKSTEP_RUN_ID"`
	LogLevel   string `env:"LOCKSTEP_LOG_LEVEL"`
}

func loadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}
