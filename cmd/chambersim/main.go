/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// cmd/chambersim/main.go
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/carverauto/chamberlink/pkg/logger"
	"github.com/carverauto/chamberlink/pkg/simulator"
)

const (
	defaultListenAddr = ":8080"
	readHeaderTimeout = 5 * time.Second
)

func main() {
	listenAddr := flag.String("listen", defaultListenAddr, "Listen address")
	version := flag.String("version", "", "Service version to report in /health")
	tick := flag.Duration("tick", time.Second, "Snapshot broadcast interval")
	flag.Parse()

	simLogger, err := logger.New(logger.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	sim := simulator.New(simulator.Config{
		Version:      *version,
		TickInterval: *tick,
	}, simLogger)
	defer sim.Close()

	server := &http.Server{
		Addr:              *listenAddr,
		Handler:           sim,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	fmt.Printf("chamber controller simulator listening on %s\n", *listenAddr)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
