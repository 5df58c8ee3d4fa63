// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package main

import (
	"os"

	"github.com/DataDog/datadog-agent/pkg/util/log"

	"github.com/DataDog/statsd-engine/cmd/statsdengine/command"
)

func main() {
	if err := command.Root.Execute(); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}
