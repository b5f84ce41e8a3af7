package fleet

import (
	"github.com/sabakan-dev/sabakan/internal/config"
	sshtest "github.com/sabakan-dev/sabakan/pkg/sshutil/testing"
)

const (
	testGPUStat = "gpustat"
	testDUPath  = "/var/log/du.txt"

	duOutput = "2026-01-02 03:00:01\n/dev/sdb1 7.3T 5.1T 2.2T 70% /home\n5.1T /home\n2T alice\n512M bob\n"
	psHeader = "    PID  CP     TIME     ELAPSED CMD\n"
)

// gpustatOneProcess is one GPU running pid 100 with 500 MiB.
const gpustatOneProcess = `{"hostname": "a", "gpus": [{
  "index": 0, "name": "NVIDIA A100", "memory.used": 500, "memory.total": 40960,
  "utilization.gpu": 80, "temperature.gpu": 50, "fan.speed": null,
  "processes": [{"pid": 100, "username": "alice", "command": "python", "gpu_memory_usage": 500}]
}]}`

// gpustatIdle is one GPU without processes.
const gpustatIdle = `{"hostname": "idle", "gpus": [{
  "index": 0, "name": "NVIDIA A100", "memory.used": 0, "memory.total": 40960,
  "processes": []
}]}`

func testServer(name string) config.Server {
	return config.Server{Name: name, Host: name + ".example", GPUStat: testGPUStat, DUPath: testDUPath}
}

// healthyHost registers name on d with the one-process fixture: pid 100 at
// 12.3% CPU.
func healthyHost(d *sshtest.MockDialer, name string) *sshtest.MockClient {
	c := d.AddClient(name + ".example")
	c.SetCommandResponse(GPUStatCommand(testGPUStat), sshtest.CommandResponse{Stdout: []byte(gpustatOneProcess)})
	c.SetCommandResponse(PSCommand([]int{100}), sshtest.CommandResponse{
		Stdout: []byte(psHeader + "    100 123 00:01:00 2-03:04:05 python train.py --lr 0.1\n"),
	})
	c.SetCommandResponse(DiskUsageCommand(testDUPath), sshtest.CommandResponse{Stdout: []byte(duOutput)})
	return c
}
