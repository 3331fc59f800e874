// Package api 暴露 HTTP 展示端：提交话语、查询作业与历史记录、健康检查和指标。
// 与内核侧的帧通道并行存在，二者共用同一个话语处理器。
package api
