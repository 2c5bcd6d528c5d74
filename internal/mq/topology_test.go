package mq

import "testing"

func TestAgentTerminateQueue_PerAgent(t *testing.T) {
	a := AgentTerminateQueue("host-1-100")
	b := AgentTerminateQueue("host-2-100")

	// У каждого агента своя очередь: fanout доставляет команду
	// остановки всем, а не одному случайному consumer'у
	if a == b {
		t.Fatal("agents must not share a terminate queue")
	}
	if a != "runs.terminate.host-1-100" {
		t.Errorf("unexpected queue name: %s", a)
	}
}

func TestAgentTerminateDeclare_NotNil(t *testing.T) {
	if AgentTerminateDeclare("host-1-100") == nil {
		t.Fatal("declare function must be usable as a consumer hook")
	}
}
