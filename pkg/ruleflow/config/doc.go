/*
Package config holds the two configuration layers of ruleflow.

Settings are the process settings: consent enforcement, deferred
destination sync, batch limits, observability backends. They are loaded
once at startup with Load, from an optional YAML/JSON file, RULEFLOW_
environment variables and defaults, in increasing order of precedence:

	defaults < file < environment

	settings, err := config.Load("ruleflow.yaml")
	// RULEFLOW_POSTPONE_DESTINATION_SYNC=2s overrides the file
	// RULEFLOW_BATCH_MAX_SIZE=500 overrides batch.max_size

Values is a read-only typed view over an arbitrary map, used for the
free-form configuration carried by destinations and resources. Missing keys
and type mismatches return the supplied default, and dotted keys reach into
nested maps:

	v := config.NewValues(resource.Config)
	endpoint := v.String("http.endpoint", "http://localhost")
	timeout := v.Duration("http.timeout", 5*time.Second)
*/
package config
