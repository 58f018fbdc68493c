// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


/*
Package tracing configures the OpenTelemetry tracer provider for the daemon.

Tool calls are traced as "mcp.call_tool" spans. Spans go nowhere by default;
settings can route them to stdout or to an OTLP/HTTP collector:

	provider, err := tracing.Setup(ctx, tracing.Config{
	    ServiceName: "circuit",
	    Exporter:    tracing.ExporterOTLP,
	    Endpoint:    "http://localhost:4318",
	})
	if err != nil {
	    return err
	}
	defer provider.Shutdown(ctx)

Setup installs the provider globally, so packages that call otel.Tracer
pick it up without further wiring.
*/
package tracing
