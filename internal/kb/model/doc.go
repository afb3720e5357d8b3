// Package model 定义知识库的持久化模型与接口传输对象。
package model
